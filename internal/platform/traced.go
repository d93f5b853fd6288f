package platform

import (
	"context"

	"github.com/threadrelay/threadrelay/internal/common/tracing"
)

// Traced wraps a publisher so every outbound platform call produces a client
// span. Spans are no-ops unless tracing is configured.
func Traced(p Publisher) Publisher {
	return &tracedPublisher{p: p}
}

type tracedPublisher struct {
	p Publisher
}

func (t *tracedPublisher) CreatePost(ctx context.Context, threadID, body string) (*Post, error) {
	ctx, span := tracing.TracePlatformCall(ctx, "create_post", "")
	defer span.End()
	post, err := t.p.CreatePost(ctx, threadID, body)
	if err != nil {
		span.RecordError(err)
	}
	return post, err
}

func (t *tracedPublisher) CreateInteractivePost(ctx context.Context, threadID, body string, initialReactions []string) (*Post, error) {
	ctx, span := tracing.TracePlatformCall(ctx, "create_interactive_post", "")
	defer span.End()
	post, err := t.p.CreateInteractivePost(ctx, threadID, body, initialReactions)
	if err != nil {
		span.RecordError(err)
	}
	return post, err
}

func (t *tracedPublisher) UpdatePost(ctx context.Context, postID, body string) error {
	ctx, span := tracing.TracePlatformCall(ctx, "update_post", postID)
	defer span.End()
	err := t.p.UpdatePost(ctx, postID, body)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (t *tracedPublisher) DeletePost(ctx context.Context, postID string) error {
	ctx, span := tracing.TracePlatformCall(ctx, "delete_post", postID)
	defer span.End()
	err := t.p.DeletePost(ctx, postID)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (t *tracedPublisher) PinPost(ctx context.Context, postID string) error {
	ctx, span := tracing.TracePlatformCall(ctx, "pin_post", postID)
	defer span.End()
	return t.p.PinPost(ctx, postID)
}

func (t *tracedPublisher) UnpinPost(ctx context.Context, postID string) error {
	ctx, span := tracing.TracePlatformCall(ctx, "unpin_post", postID)
	defer span.End()
	return t.p.UnpinPost(ctx, postID)
}

func (t *tracedPublisher) AddReaction(ctx context.Context, postID, emoji string) error {
	ctx, span := tracing.TracePlatformCall(ctx, "add_reaction", postID)
	defer span.End()
	return t.p.AddReaction(ctx, postID, emoji)
}

func (t *tracedPublisher) RemoveReaction(ctx context.Context, postID, emoji string) error {
	ctx, span := tracing.TracePlatformCall(ctx, "remove_reaction", postID)
	defer span.End()
	return t.p.RemoveReaction(ctx, postID, emoji)
}

func (t *tracedPublisher) SendTyping(ctx context.Context, threadID string) {
	t.p.SendTyping(ctx, threadID)
}

func (t *tracedPublisher) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	ctx, span := tracing.TracePlatformCall(ctx, "download_file", "")
	defer span.End()
	data, err := t.p.DownloadFile(ctx, fileID)
	if err != nil {
		span.RecordError(err)
	}
	return data, err
}

func (t *tracedPublisher) MessageLimits() Limits { return t.p.MessageLimits() }

func (t *tracedPublisher) Formatter() Formatter { return t.p.Formatter() }

func (t *tracedPublisher) IsUserAllowed(u string) bool { return t.p.IsUserAllowed(u) }
