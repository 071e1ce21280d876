// Package botclient is the HTTP client platform bot adapters use to
// talk to the Glia API. It holds the shared API key, keeps the
// per-user session tokens the server refreshes on every stream, and
// hides the SSE wire format behind callbacks.
package botclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/glia-ai/glia/pkg/glia/platform"
	"github.com/glia-ai/glia/pkg/glia/stream"
)

// Sentinel errors callers branch on.
var (
	ErrUnauthorized = errors.New("authentication rejected")
	ErrNotLinked    = errors.New("account not linked")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// Client talks to the Glia bot API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger

	mu     sync.Mutex
	tokens map[string]string // platform:platform_user_id -> session token
}

// New creates a client for the API at baseURL.
func New(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Minute},
		logger:  logger.With("component", "botclient"),
		tokens:  make(map[string]string),
	}
}

// ChatRequest is one chat invocation on behalf of a platform user.
type ChatRequest struct {
	Platform       platform.Platform `json:"platform"`
	PlatformUserID string            `json:"platform_user_id"`
	ChannelID      string            `json:"channel_id,omitempty"`
	GuildID        string            `json:"guild_id,omitempty"`
	Message        string            `json:"message"`
}

// ChatResult is the outcome of a finished stream.
type ChatResult struct {
	Text           string
	ConversationID string
}

func tokenKey(p platform.Platform, userID string) string {
	return p.String() + ":" + userID
}

func (c *Client) cachedToken(p platform.Platform, userID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[tokenKey(p, userID)]
}

func (c *Client) storeToken(p platform.Platform, userID, tok string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[tokenKey(p, userID)] = tok
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any, p platform.Platform, userID string) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	if tok := c.cachedToken(p, userID); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

func statusError(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrNotLinked
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return fmt.Errorf("API returned %d", code)
	}
}

// ChatStream runs one streaming chat. onText is invoked for every text
// chunk as it arrives; the full reply is returned when the stream
// finishes. A server-side error event surfaces as an error after any
// partial text was delivered.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, onText func(string)) (*ChatResult, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/bot/chat-stream", req, req.Platform, req.PlatformUserID)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat-stream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode)
	}

	var (
		text   strings.Builder
		result ChatResult
		srvErr string
	)
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok || data == "" {
			continue
		}
		var ev stream.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.logger.Debug("skipping malformed event", "error", err)
			continue
		}
		switch {
		case ev.SessionToken != "":
			c.storeToken(req.Platform, req.PlatformUserID, ev.SessionToken)
		case ev.Error != "":
			srvErr = ev.Error
		case ev.Done:
			result.ConversationID = ev.ConversationID
		case ev.Text != "":
			text.WriteString(ev.Text)
			if onText != nil {
				onText(ev.Text)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	result.Text = text.String()
	if srvErr != "" {
		return &result, fmt.Errorf("assistant error: %s", srvErr)
	}
	return &result, nil
}

// MentionResult is the reply to a mention chat.
type MentionResult struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
	Linked         bool   `json:"linked"`
}

// ChatMention runs one foreground mention chat.
func (c *Client) ChatMention(ctx context.Context, req ChatRequest) (*MentionResult, error) {
	var out MentionResult
	if err := c.doJSON(ctx, http.MethodPost, "/bot/chat-mention", req, req.Platform, req.PlatformUserID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LinkPrompt is the response to a link token request.
type LinkPrompt struct {
	Token   string `json:"token"`
	AuthURL string `json:"auth_url"`
}

// CreateLinkToken requests a link token for an unlinked user.
func (c *Client) CreateLinkToken(ctx context.Context, p platform.Platform, userID, username, displayName string) (*LinkPrompt, error) {
	body := map[string]string{
		"platform":         p.String(),
		"platform_user_id": userID,
		"username":         username,
		"display_name":     displayName,
	}
	var out LinkPrompt
	if err := c.doJSON(ctx, http.MethodPost, "/bot/create-link-token", body, p, userID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetSession starts a fresh conversation for the platform context.
func (c *Client) ResetSession(ctx context.Context, p platform.Platform, userID, channelID string) error {
	body := map[string]string{
		"platform":         p.String(),
		"platform_user_id": userID,
		"channel_id":       channelID,
	}
	return c.doJSON(ctx, http.MethodPost, "/bot/reset-session", body, p, userID, nil)
}

// Linked reports whether the platform user is linked to an account.
func (c *Client) Linked(ctx context.Context, p platform.Platform, userID string) (bool, error) {
	var out struct {
		Linked bool `json:"linked"`
	}
	path := fmt.Sprintf("/bot/auth-status/%s/%s", p, userID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, p, userID, &out); err != nil {
		return false, err
	}
	return out.Linked, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, p platform.Platform, userID string, out any) error {
	req, err := c.newRequest(ctx, method, path, body, p, userID)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
