package mattermost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/threadrelay/threadrelay/internal/common/logger"
	"github.com/threadrelay/threadrelay/internal/platform"
)

// Mattermost post bodies cap at 16383 characters server-side.
const (
	maxPostLength = 16383
	softThreshold = 4000
	hardThreshold = 8000
)

// Config describes one Mattermost connection.
type Config struct {
	ID           string
	URL          string
	Token        string
	ChannelID    string
	BotName      string
	AllowedUsers []string
}

// Client is the Mattermost platform port.
type Client struct {
	cfg    Config
	rest   *restClient
	ws     *wsListener
	logger *logger.Logger

	messages  chan platform.MessageEvent
	reactions chan platform.ReactionEvent

	botUserID string
	allowed   map[string]bool

	// userNames caches user-id → username lookups for ACL checks and
	// display names.
	userNames sync.Map
}

// New creates the port. The bot identity is resolved on Run.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.ChannelID == "" {
		return nil, fmt.Errorf("mattermost config needs url, token, and channelId")
	}
	log = log.WithPlatformID(cfg.ID)

	allowed := make(map[string]bool, len(cfg.AllowedUsers))
	for _, u := range cfg.AllowedUsers {
		allowed[u] = true
	}

	c := &Client{
		cfg:       cfg,
		rest:      newRESTClient(cfg.URL, cfg.Token, log),
		logger:    log,
		messages:  make(chan platform.MessageEvent, 64),
		reactions: make(chan platform.ReactionEvent, 64),
		allowed:   allowed,
	}
	c.ws = newWSListener(c)
	return c, nil
}

// ID returns the config slug.
func (c *Client) ID() string { return c.cfg.ID }

// BotName returns the mention name.
func (c *Client) BotName() string { return c.cfg.BotName }

// Run resolves the bot identity and pumps websocket events until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	me, err := c.rest.me(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve bot identity: %w", err)
	}
	c.botUserID = me.ID
	c.logger.Info("connected to mattermost",
		zap.String("bot_user", me.Username),
		zap.String("channel", c.cfg.ChannelID))

	return c.ws.run(ctx)
}

// Messages returns the inbound message channel.
func (c *Client) Messages() <-chan platform.MessageEvent { return c.messages }

// Reactions returns the inbound reaction channel.
func (c *Client) Reactions() <-chan platform.ReactionEvent { return c.reactions }

func (c *Client) CreatePost(ctx context.Context, threadID, body string) (*platform.Post, error) {
	post, err := c.rest.createPost(ctx, c.cfg.ChannelID, threadID, body)
	if err != nil {
		return nil, err
	}
	return &platform.Post{
		ID:        post.ID,
		ThreadID:  threadID,
		CreatedAt: time.UnixMilli(post.CreateAt),
	}, nil
}

// CreateInteractivePost creates the post and then attaches the seed
// reactions; Mattermost has no single-call equivalent.
func (c *Client) CreateInteractivePost(ctx context.Context, threadID, body string, reactions []string) (*platform.Post, error) {
	post, err := c.CreatePost(ctx, threadID, body)
	if err != nil {
		return nil, err
	}
	for _, emoji := range reactions {
		if err := c.AddReaction(ctx, post.ID, emoji); err != nil {
			c.logger.Warn("failed to seed reaction",
				zap.String("post_id", post.ID), zap.String("emoji", emoji), zap.Error(err))
		}
	}
	return post, nil
}

func (c *Client) UpdatePost(ctx context.Context, postID, body string) error {
	return c.rest.patchPost(ctx, postID, body)
}

func (c *Client) DeletePost(ctx context.Context, postID string) error {
	return c.rest.deletePost(ctx, postID)
}

func (c *Client) PinPost(ctx context.Context, postID string) error {
	return c.rest.pinPost(ctx, postID)
}

func (c *Client) UnpinPost(ctx context.Context, postID string) error {
	return c.rest.unpinPost(ctx, postID)
}

func (c *Client) AddReaction(ctx context.Context, postID, emoji string) error {
	return c.rest.addReaction(ctx, c.botUserID, postID, emoji)
}

func (c *Client) RemoveReaction(ctx context.Context, postID, emoji string) error {
	return c.rest.removeReaction(ctx, c.botUserID, postID, emoji)
}

func (c *Client) SendTyping(ctx context.Context, threadID string) {
	if err := c.rest.sendTyping(ctx, c.botUserID, c.cfg.ChannelID, threadID); err != nil {
		c.logger.Debug("typing indicator failed", zap.Error(err))
	}
}

func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	return c.rest.downloadFile(ctx, fileID)
}

func (c *Client) MessageLimits() platform.Limits {
	return platform.Limits{
		MaxLength:     maxPostLength,
		SoftThreshold: softThreshold,
		HardThreshold: hardThreshold,
	}
}

func (c *Client) Formatter() platform.Formatter { return platform.MarkdownFormatter{} }

// IsUserAllowed checks the configured allow-list, which may hold usernames
// or user ids. An empty list admits everyone in the channel.
func (c *Client) IsUserAllowed(user string) bool {
	if len(c.allowed) == 0 {
		return true
	}
	if c.allowed[user] {
		return true
	}
	if name, ok := c.userNames.Load(user); ok {
		return c.allowed[name.(string)]
	}
	return false
}

// username resolves a user id, caching the result.
func (c *Client) username(ctx context.Context, userID string) string {
	if name, ok := c.userNames.Load(userID); ok {
		return name.(string)
	}
	user, err := c.rest.user(ctx, userID)
	if err != nil {
		c.logger.Debug("failed to resolve username", zap.String("user_id", userID), zap.Error(err))
		return userID
	}
	c.userNames.Store(userID, user.Username)
	return user.Username
}
