// Package slack implements the platform port for Slack on the slack-go SDK:
// Web API calls for publishing and a Socket Mode connection for ingest. Post
// ids are message timestamps; threads are keyed by the root message's ts.
package slack

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	goslack "github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"github.com/threadrelay/threadrelay/internal/common/constants"
	"github.com/threadrelay/threadrelay/internal/common/logger"
	"github.com/threadrelay/threadrelay/internal/platform"
)

// Slack accepts up to 40000 characters of message text; clients collapse
// anything past a few thousand, so splitting kicks in much earlier.
const (
	maxMessageLength = 40000
	softThreshold    = 3000
	hardThreshold    = 3800
)

// Config describes one Slack workspace connection.
type Config struct {
	ID           string
	BotToken     string // xoxb-
	AppToken     string // xapp-, for Socket Mode
	ChannelID    string
	BotName      string
	AllowedUsers []string
}

// Client is the Slack platform port.
type Client struct {
	cfg    Config
	api    *goslack.Client
	socket *socketmode.Client
	logger *logger.Logger

	messages  chan platform.MessageEvent
	reactions chan platform.ReactionEvent

	botUserID string
	allowed   map[string]bool
}

// New creates the port. The bot identity is resolved on Run.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	if !strings.HasPrefix(cfg.BotToken, "xoxb-") {
		return nil, fmt.Errorf("slack botToken must start with xoxb-")
	}
	if !strings.HasPrefix(cfg.AppToken, "xapp-") {
		return nil, fmt.Errorf("slack appToken must start with xapp-")
	}
	if cfg.ChannelID == "" {
		return nil, fmt.Errorf("slack config needs channelId")
	}
	log = log.WithPlatformID(cfg.ID)

	allowed := make(map[string]bool, len(cfg.AllowedUsers))
	for _, u := range cfg.AllowedUsers {
		allowed[u] = true
	}

	api := goslack.New(cfg.BotToken,
		goslack.OptionAppLevelToken(cfg.AppToken),
		goslack.OptionHTTPClient(&http.Client{Timeout: constants.PlatformCallTimeout}))
	return &Client{
		cfg:       cfg,
		api:       api,
		socket:    socketmode.New(api),
		logger:    log,
		messages:  make(chan platform.MessageEvent, 64),
		reactions: make(chan platform.ReactionEvent, 64),
		allowed:   allowed,
	}, nil
}

// ID returns the config slug.
func (c *Client) ID() string { return c.cfg.ID }

// BotName returns the mention name.
func (c *Client) BotName() string { return c.cfg.BotName }

// Run resolves the bot identity and pumps Socket Mode events until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve bot identity: %w", err)
	}
	c.botUserID = auth.UserID
	c.logger.Info("connected to slack",
		zap.String("bot_user", auth.User),
		zap.String("channel", c.cfg.ChannelID))

	go c.eventLoop(ctx)
	return c.socket.RunContext(ctx)
}

// Messages returns the inbound message channel.
func (c *Client) Messages() <-chan platform.MessageEvent { return c.messages }

// Reactions returns the inbound reaction channel.
func (c *Client) Reactions() <-chan platform.ReactionEvent { return c.reactions }

func (c *Client) CreatePost(ctx context.Context, threadID, body string) (*platform.Post, error) {
	opts := []goslack.MsgOption{goslack.MsgOptionText(body, false)}
	if threadID != "" {
		opts = append(opts, goslack.MsgOptionTS(threadID))
	}
	_, ts, err := c.api.PostMessageContext(ctx, c.cfg.ChannelID, opts...)
	if err != nil {
		return nil, fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return &platform.Post{ID: ts, ThreadID: threadID}, nil
}

// CreateInteractivePost creates the message and then attaches the seed
// reactions; the Web API has no single-call equivalent.
func (c *Client) CreateInteractivePost(ctx context.Context, threadID, body string, reactions []string) (*platform.Post, error) {
	post, err := c.CreatePost(ctx, threadID, body)
	if err != nil {
		return nil, err
	}
	for _, emoji := range reactions {
		if err := c.AddReaction(ctx, post.ID, emoji); err != nil {
			c.logger.Warn("failed to seed reaction",
				zap.String("ts", post.ID), zap.String("emoji", emoji), zap.Error(err))
		}
	}
	return post, nil
}

func (c *Client) UpdatePost(ctx context.Context, postID, body string) error {
	_, _, _, err := c.api.UpdateMessageContext(ctx, c.cfg.ChannelID, postID,
		goslack.MsgOptionText(body, false))
	if isMessageGone(err) {
		return platform.ErrPostGone
	}
	return err
}

func (c *Client) DeletePost(ctx context.Context, postID string) error {
	_, _, err := c.api.DeleteMessageContext(ctx, c.cfg.ChannelID, postID)
	if isMessageGone(err) {
		return nil
	}
	return err
}

func (c *Client) PinPost(ctx context.Context, postID string) error {
	return c.api.AddPinContext(ctx, c.cfg.ChannelID,
		goslack.NewRefToMessage(c.cfg.ChannelID, postID))
}

func (c *Client) UnpinPost(ctx context.Context, postID string) error {
	return c.api.RemovePinContext(ctx, c.cfg.ChannelID,
		goslack.NewRefToMessage(c.cfg.ChannelID, postID))
}

func (c *Client) AddReaction(ctx context.Context, postID, emoji string) error {
	return c.api.AddReactionContext(ctx, trimColons(emoji),
		goslack.NewRefToMessage(c.cfg.ChannelID, postID))
}

func (c *Client) RemoveReaction(ctx context.Context, postID, emoji string) error {
	return c.api.RemoveReactionContext(ctx, trimColons(emoji),
		goslack.NewRefToMessage(c.cfg.ChannelID, postID))
}

// SendTyping is a no-op: the Web API offers no typing indicator for bots.
func (c *Client) SendTyping(context.Context, string) {}

// DownloadFile fetches an attachment; the file id carries the url_private
// captured from the inbound event.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	if !strings.HasPrefix(fileID, "https://") {
		return nil, fmt.Errorf("unexpected file reference %q", fileID)
	}
	var buf bytes.Buffer
	if err := c.api.GetFileContext(ctx, fileID, &buf); err != nil {
		return nil, fmt.Errorf("file download failed: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Client) MessageLimits() platform.Limits {
	return platform.Limits{
		MaxLength:     maxMessageLength,
		SoftThreshold: softThreshold,
		HardThreshold: hardThreshold,
	}
}

func (c *Client) Formatter() platform.Formatter { return platform.MrkdwnFormatter{} }

// IsUserAllowed checks the configured allow-list of user ids. An empty list
// admits everyone in the channel.
func (c *Client) IsUserAllowed(user string) bool {
	if len(c.allowed) == 0 {
		return true
	}
	return c.allowed[user]
}

// isMessageGone reports whether a Web API error means the target message no
// longer exists. The SDK surfaces the API error code as the error string.
func isMessageGone(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "message_not_found") ||
		strings.Contains(err.Error(), "cant_update_message")
}

// trimColons strips the :name: wrapping some clients put on emoji names.
func trimColons(emoji string) string {
	return strings.Trim(emoji, ":")
}
