// Package platform defines the port through which the session runtime talks
// to a chat platform. Concrete adapters live in subpackages (mattermost,
// slack); nothing platform-specific leaks past these interfaces.
package platform

import (
	"context"
	"errors"
	"time"
)

// ErrPostGone is returned by UpdatePost when the target message no longer
// exists. DeletePost treats a missing post as success.
var ErrPostGone = errors.New("post gone")

// IsPostGone reports whether err indicates the target post was deleted.
func IsPostGone(err error) bool {
	return errors.Is(err, ErrPostGone)
}

// Post is a message created by the bot on a thread.
type Post struct {
	ID        string
	ThreadID  string
	CreatedAt time.Time
}

// Limits carries the platform-specific size constants that drive content
// splitting.
type Limits struct {
	// MaxLength is the hard platform cap; bodies longer than this are
	// rejected or truncated by the server.
	MaxLength int
	// SoftThreshold is where the content executor starts looking for a
	// natural breakpoint.
	SoftThreshold int
	// HardThreshold is where a break is forced even mid-paragraph.
	HardThreshold int
	// MaxLines triggers an early flush independent of byte length.
	MaxLines int
}

// File describes an attachment on an inbound message.
type File struct {
	ID       string
	Name     string
	MimeType string
}

// MessageEvent is an inbound chat message.
type MessageEvent struct {
	PostID       string
	ThreadID     string
	ParentPostID string
	UserID       string
	UserName     string
	Text         string
	Files        []File
	IsMention    bool
	IsBot        bool
	Timestamp    time.Time
}

// ReactionAction distinguishes reaction add from remove.
type ReactionAction string

const (
	ReactionAdded   ReactionAction = "added"
	ReactionRemoved ReactionAction = "removed"
)

// ReactionEvent is an inbound emoji reaction on a post.
type ReactionEvent struct {
	PostID    string
	ThreadID  string
	Emoji     string
	UserID    string
	UserName  string
	Action    ReactionAction
	Timestamp time.Time
}

// Formatter renders rich text in the platform's markdown dialect.
type Formatter interface {
	Bold(s string) string
	Italic(s string) string
	Code(s string) string
	CodeBlock(lang, s string) string
	Link(text, url string) string
	Strikethrough(s string) string
	UserMention(user string) string
	HorizontalRule() string
	Heading(level int, s string) string
	// MarkdownToNative converts standard markdown to the platform dialect.
	// A no-op on platforms that speak standard markdown.
	MarkdownToNative(text string) string
}

// Publisher is the outbound half of the port. All calls may fail with a
// transport error; the session layer decides recovery.
type Publisher interface {
	CreatePost(ctx context.Context, threadID, body string) (*Post, error)
	// CreateInteractivePost creates a post with initial reactions attached.
	// Kept separate from CreatePost because some platforms require a single
	// call so the reactions land on the new message rather than racing a
	// just-deleted one.
	CreateInteractivePost(ctx context.Context, threadID, body string, initialReactions []string) (*Post, error)
	UpdatePost(ctx context.Context, postID, body string) error
	// DeletePost is idempotent; deleting a missing post is not an error.
	DeletePost(ctx context.Context, postID string) error
	PinPost(ctx context.Context, postID string) error
	UnpinPost(ctx context.Context, postID string) error
	AddReaction(ctx context.Context, postID, emoji string) error
	RemoveReaction(ctx context.Context, postID, emoji string) error
	SendTyping(ctx context.Context, threadID string)
	// DownloadFile fetches an attachment. Adapters without file support
	// return an error.
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
	MessageLimits() Limits
	Formatter() Formatter
	// IsUserAllowed enforces the platform-level ACL from configuration.
	IsUserAllowed(user string) bool
}

// Ingester is the inbound half of the port.
type Ingester interface {
	// Run connects and pumps events until ctx is cancelled.
	Run(ctx context.Context) error
	Messages() <-chan MessageEvent
	Reactions() <-chan ReactionEvent
}

// Port is a complete platform binding.
type Port interface {
	Publisher
	Ingester
	// ID is the config slug for this platform instance.
	ID() string
	// BotName is the mention name the bot answers to.
	BotName() string
}
