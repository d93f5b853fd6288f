package mattermost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/threadrelay/threadrelay/internal/platform"
)

const (
	reconnectInterval = 5 * time.Second
	pingInterval      = 30 * time.Second
)

// wsListener pumps the Mattermost event websocket and converts the events
// this port cares about into channel sends. It reconnects forever until its
// context is cancelled.
type wsListener struct {
	client *Client
}

func newWSListener(c *Client) *wsListener {
	return &wsListener{client: c}
}

// wsEvent is one frame from /api/v4/websocket.
type wsEvent struct {
	Event string                     `json:"event"`
	Data  map[string]json.RawMessage `json:"data"`
	Seq   int64                      `json:"seq"`
}

func (w *wsListener) run(ctx context.Context) error {
	url := wsURL(w.client.cfg.URL)
	log := w.client.logger

	for {
		if err := w.connectAndListen(ctx, url); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("websocket connection lost, reconnecting",
				zap.Error(err), zap.Duration("in", reconnectInterval))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectInterval):
		}
	}
}

func (w *wsListener) connectAndListen(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", url, err)
	}
	defer func() { _ = conn.Close() }()

	auth := map[string]any{
		"seq":    1,
		"action": "authentication_challenge",
		"data":   map[string]string{"token": w.client.cfg.Token},
	}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	w.client.logger.Info("mattermost websocket connected")

	// Close the connection when ctx ends so ReadJSON unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		var ev wsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		w.handle(ctx, &ev)
	}
}

func (w *wsListener) handle(ctx context.Context, ev *wsEvent) {
	switch ev.Event {
	case "posted":
		w.handlePosted(ctx, ev)
	case "reaction_added":
		w.handleReaction(ctx, ev, platform.ReactionAdded)
	case "reaction_removed":
		w.handleReaction(ctx, ev, platform.ReactionRemoved)
	}
}

// handlePosted parses the double-encoded post payload and forwards messages
// from the configured channel.
func (w *wsListener) handlePosted(ctx context.Context, ev *wsEvent) {
	post, ok := decodeNested[apiPost](ev.Data, "post")
	if !ok {
		w.client.logger.Debug("unparseable posted event")
		return
	}
	if post.ChannelID != w.client.cfg.ChannelID {
		return
	}

	files := make([]platform.File, 0, len(post.Metadata.Files))
	for _, f := range post.Metadata.Files {
		files = append(files, platform.File{ID: f.ID, Name: f.Name, MimeType: f.MimeType})
	}

	msg := platform.MessageEvent{
		PostID:       post.ID,
		ThreadID:     post.RootID,
		ParentPostID: post.RootID,
		UserID:       post.UserID,
		UserName:     w.client.username(ctx, post.UserID),
		Text:         post.Message,
		Files:        files,
		IsMention:    strings.Contains(post.Message, "@"+w.client.cfg.BotName),
		IsBot:        post.UserID == w.client.botUserID,
		Timestamp:    time.UnixMilli(post.CreateAt),
	}
	select {
	case w.client.messages <- msg:
	case <-ctx.Done():
	}
}

func (w *wsListener) handleReaction(ctx context.Context, ev *wsEvent, action platform.ReactionAction) {
	reaction, ok := decodeNested[apiReaction](ev.Data, "reaction")
	if !ok {
		w.client.logger.Debug("unparseable reaction event")
		return
	}
	if reaction.UserID == w.client.botUserID {
		// Our own seed reactions echo back; drop them.
		return
	}

	re := platform.ReactionEvent{
		PostID:    reaction.PostID,
		Emoji:     reaction.EmojiName,
		UserID:    reaction.UserID,
		UserName:  w.client.username(ctx, reaction.UserID),
		Action:    action,
		Timestamp: time.Now(),
	}
	select {
	case w.client.reactions <- re:
	case <-ctx.Done():
	}
}

// decodeNested unwraps Mattermost's string-encoded JSON event payloads.
func decodeNested[T any](data map[string]json.RawMessage, key string) (T, bool) {
	var zero T
	raw, ok := data[key]
	if !ok {
		return zero, false
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return zero, false
	}
	var out T
	if err := json.Unmarshal([]byte(encoded), &out); err != nil {
		return zero, false
	}
	return out, true
}

// wsURL maps the configured http(s) base URL to the websocket endpoint.
func wsURL(base string) string {
	url := strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/api/v4/websocket"
}
