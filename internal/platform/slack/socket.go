package slack

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/threadrelay/threadrelay/internal/platform"
)

// eventLoop drains the Socket Mode event channel; socketmode.RunContext owns
// the connection and its reconnects.
func (c *Client) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
			if !ok {
				return
			}
			c.handleSocketEvent(ctx, evt)
		}
	}
}

func (c *Client) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		c.logger.Info("slack socket mode connecting")
	case socketmode.EventTypeConnected:
		c.logger.Info("slack socket mode connected")
	case socketmode.EventTypeConnectionError:
		c.logger.Warn("slack socket mode connection error")
	case socketmode.EventTypeEventsAPI:
		// Ack before processing; Slack redelivers unacked envelopes.
		if evt.Request != nil {
			c.socket.Ack(*evt.Request)
		}
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		c.handleEventsAPI(ctx, apiEvent)
	}
}

func (c *Client) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		c.handleMessageEvent(ctx, ev)
	case *slackevents.AppMentionEvent:
		// The message event for the same post already carries the mention.
	case *slackevents.ReactionAddedEvent:
		c.handleReaction(ctx, ev.User, ev.Reaction, ev.Item.Channel, ev.Item.Timestamp,
			platform.ReactionAdded)
	case *slackevents.ReactionRemovedEvent:
		c.handleReaction(ctx, ev.User, ev.Reaction, ev.Item.Channel, ev.Item.Timestamp,
			platform.ReactionRemoved)
	}
}

func (c *Client) handleMessageEvent(ctx context.Context, ev *slackevents.MessageEvent) {
	if ev.Channel != c.cfg.ChannelID {
		return
	}
	// Edits, deletions, and join notices carry a subtype; only plain
	// messages (and file shares) reach the sessions.
	if ev.SubType != "" && ev.SubType != "file_share" && ev.SubType != "thread_broadcast" {
		return
	}

	files := make([]platform.File, 0, len(ev.Files))
	for _, f := range ev.Files {
		files = append(files, platform.File{ID: f.URLPrivate, Name: f.Name, MimeType: f.Mimetype})
	}

	mention := "<@" + c.botUserID + ">"
	msg := platform.MessageEvent{
		PostID:       ev.TimeStamp,
		ThreadID:     ev.ThreadTimeStamp,
		ParentPostID: ev.ThreadTimeStamp,
		UserID:       ev.User,
		UserName:     ev.User,
		Text:         stripBotMention(ev.Text, mention),
		Files:        files,
		IsMention:    strings.Contains(ev.Text, mention),
		IsBot:        ev.BotID != "" || ev.User == c.botUserID,
		Timestamp:    tsTime(ev.TimeStamp),
	}
	select {
	case c.messages <- msg:
	case <-ctx.Done():
	}
}

func (c *Client) handleReaction(ctx context.Context, user, reaction, channel, ts string, action platform.ReactionAction) {
	if channel != c.cfg.ChannelID || user == c.botUserID {
		return
	}
	re := platform.ReactionEvent{
		PostID:    ts,
		Emoji:     trimColons(reaction),
		UserID:    user,
		UserName:  user,
		Action:    action,
		Timestamp: time.Now(),
	}
	select {
	case c.reactions <- re:
	case <-ctx.Done():
	}
}

// stripBotMention removes the <@UXXXX> token so commands and prompts parse
// the same as on platforms with name mentions.
func stripBotMention(text, mention string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, mention, ""))
}

// tsTime converts a Slack "1700000000.000200" timestamp to a time.Time.
func tsTime(ts string) time.Time {
	secs, _, _ := strings.Cut(ts, ".")
	var unix int64
	_, err := fmt.Sscanf(secs, "%d", &unix)
	if err != nil {
		return time.Now()
	}
	return time.Unix(unix, 0)
}
