// Package backend is the REST client for the chat backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/chat"
)

// Client calls the chat REST API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

// New creates a client. hc may be nil.
func New(baseURL, token string, hc *http.Client, log *zap.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    hc,
		log:     log,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*Envelope, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env Envelope
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	c.log.Debug("backend call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Message: env.Message}
	}
	if !env.Success {
		code := http.StatusBadRequest
		if strings.Contains(env.Message, "로그인") {
			code = http.StatusUnauthorized
		}
		return nil, &StatusError{Code: code, Message: env.Message}
	}
	return &env, nil
}

func idPath(format string, id int64) string {
	return fmt.Sprintf(format, url.PathEscape(strconv.FormatInt(id, 10)))
}

// MemberInfo returns the member id of the token's owner.
func (c *Client) MemberInfo(ctx context.Context) (int64, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/chat/member-info", nil)
	if err != nil {
		return 0, err
	}
	return env.MemberID, nil
}

// ListRooms returns the rooms the caller belongs to.
func (c *Client) ListRooms(ctx context.Context) ([]chat.Room, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/chat/rooms", nil)
	if err != nil {
		return nil, err
	}
	return env.Rooms, nil
}

// UnreadCount returns the number of messages in roomID the caller has not read.
func (c *Client) UnreadCount(ctx context.Context, roomID int64) (int, error) {
	env, err := c.do(ctx, http.MethodGet, idPath("/api/chat/rooms/%s/unread", roomID), nil)
	if err != nil {
		return 0, err
	}
	if env.UnreadCount == nil {
		return 0, nil
	}
	return *env.UnreadCount, nil
}

// FetchHistory returns the full history of roomID in ascending send order.
func (c *Client) FetchHistory(ctx context.Context, roomID int64) ([]chat.Message, error) {
	env, err := c.do(ctx, http.MethodGet, idPath("/api/chat/rooms/%s/messages", roomID), nil)
	if err != nil {
		return nil, err
	}
	return env.Messages, nil
}

// FetchAttachment returns the attachment of messageID.
func (c *Client) FetchAttachment(ctx context.Context, messageID int64) (chat.Attachment, error) {
	env, err := c.do(ctx, http.MethodGet, idPath("/api/chat/messages/%s/attachment", messageID), nil)
	if err != nil {
		return chat.Attachment{}, err
	}
	if env.Attachment == nil {
		return chat.Attachment{}, &StatusError{Code: http.StatusNotFound, Message: "no attachment"}
	}
	return *env.Attachment, nil
}

// PutAttachment registers attachment metadata for messageID. Only the
// development server accepts it; production uploads go through a separate
// service.
func (c *Client) PutAttachment(ctx context.Context, messageID int64, a chat.Attachment) (chat.Attachment, error) {
	env, err := c.do(ctx, http.MethodPut, idPath("/api/chat/messages/%s/attachment", messageID), a)
	if err != nil {
		return chat.Attachment{}, err
	}
	if env.Attachment == nil {
		return a, nil
	}
	return *env.Attachment, nil
}

// DeleteMessage deletes one of the caller's messages.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	_, err := c.do(ctx, http.MethodDelete, idPath("/api/chat/messages/%s", messageID), nil)
	return err
}

// ReportMessage files a report against messageID.
func (c *Client) ReportMessage(ctx context.Context, messageID int64, reason string) error {
	_, err := c.do(ctx, http.MethodPost, idPath("/api/chat/messages/%s/report", messageID), ReportRequest{ReportContent: reason})
	return err
}
