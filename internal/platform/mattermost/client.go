// Package mattermost implements the platform port for a Mattermost server:
// a REST publisher over the v4 API and a websocket ingester for message and
// reaction events.
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/threadrelay/threadrelay/internal/common/constants"
	"github.com/threadrelay/threadrelay/internal/common/logger"
	"github.com/threadrelay/threadrelay/internal/platform"
)

type restClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *logger.Logger
}

func newRESTClient(baseURL, token string, log *logger.Logger) *restClient {
	return &restClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: constants.PlatformCallTimeout},
		logger:  log.WithFields(zap.String("component", "mattermost-rest")),
	}
}

// apiPost is the wire shape of a Mattermost post.
type apiPost struct {
	ID        string `json:"id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	RootID    string `json:"root_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message,omitempty"`
	CreateAt  int64  `json:"create_at,omitempty"`
	Metadata  struct {
		Files []apiFileInfo `json:"files,omitempty"`
	} `json:"metadata,omitempty"`
}

type apiFileInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
}

type apiUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsBot    bool   `json:"is_bot"`
}

type apiReaction struct {
	UserID    string `json:"user_id"`
	PostID    string `json:"post_id"`
	EmojiName string `json:"emoji_name"`
}

func (c *restClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return platform.ErrPostGone
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("mattermost %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *restClient) createPost(ctx context.Context, channelID, rootID, message string) (*apiPost, error) {
	var post apiPost
	err := c.do(ctx, http.MethodPost, "/api/v4/posts",
		&apiPost{ChannelID: channelID, RootID: rootID, Message: message}, &post)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (c *restClient) patchPost(ctx context.Context, postID, message string) error {
	return c.do(ctx, http.MethodPut, "/api/v4/posts/"+postID+"/patch",
		map[string]string{"message": message}, nil)
}

func (c *restClient) deletePost(ctx context.Context, postID string) error {
	err := c.do(ctx, http.MethodDelete, "/api/v4/posts/"+postID, nil, nil)
	if platform.IsPostGone(err) {
		return nil
	}
	return err
}

func (c *restClient) pinPost(ctx context.Context, postID string) error {
	return c.do(ctx, http.MethodPost, "/api/v4/posts/"+postID+"/pin", nil, nil)
}

func (c *restClient) unpinPost(ctx context.Context, postID string) error {
	return c.do(ctx, http.MethodPost, "/api/v4/posts/"+postID+"/unpin", nil, nil)
}

func (c *restClient) addReaction(ctx context.Context, userID, postID, emoji string) error {
	return c.do(ctx, http.MethodPost, "/api/v4/reactions",
		&apiReaction{UserID: userID, PostID: postID, EmojiName: emoji}, nil)
}

func (c *restClient) removeReaction(ctx context.Context, userID, postID, emoji string) error {
	return c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/api/v4/users/%s/posts/%s/reactions/%s", userID, postID, emoji), nil, nil)
}

func (c *restClient) sendTyping(ctx context.Context, userID, channelID, rootID string) error {
	return c.do(ctx, http.MethodPost, "/api/v4/users/"+userID+"/typing",
		map[string]string{"channel_id": channelID, "parent_id": rootID}, nil)
}

func (c *restClient) me(ctx context.Context) (*apiUser, error) {
	var user apiUser
	if err := c.do(ctx, http.MethodGet, "/api/v4/users/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *restClient) user(ctx context.Context, userID string) (*apiUser, error) {
	var user apiUser
	if err := c.do(ctx, http.MethodGet, "/api/v4/users/"+userID, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *restClient) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v4/files/"+fileID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download failed: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
