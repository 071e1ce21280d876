package server

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
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glia-ai/glia/pkg/glia/agent"
	"github.com/glia-ai/glia/pkg/glia/cache"
	"github.com/glia-ai/glia/pkg/glia/config"
	"github.com/glia-ai/glia/pkg/glia/store/sqlite"
	"github.com/glia-ai/glia/pkg/glia/stream"
	"github.com/glia-ai/glia/pkg/glia/token"
)

const testAPIKey = "test-bot-api-key"

// scriptedAgent plays back a fixed frame sequence.
type scriptedAgent struct {
	frames    []string
	runText   string
	runErr    error
	streamErr error
}

func (a *scriptedAgent) Stream(context.Context, agent.Request) (<-chan string, error) {
	if a.streamErr != nil {
		return nil, a.streamErr
	}
	ch := make(chan string, len(a.frames))
	for _, f := range a.frames {
		ch <- f
	}
	close(ch)
	return ch, nil
}

func (a *scriptedAgent) Run(context.Context, agent.Request) (string, error) {
	return a.runText, a.runErr
}

type testServer struct {
	srv   *Server
	ts    *httptest.Server
	store *sqlite.Store
	agent *scriptedAgent
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Auth.BotAPIKey = testAPIKey
	cfg.Auth.SessionTokenSecret = strings.Repeat("s", token.MinSecretLen)
	cfg.Server.FrontendURL = "https://app.example.com"

	st, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	ag := &scriptedAgent{
		frames: []string{
			agent.TextFrame("hello "),
			agent.TextFrame("world"),
			agent.FrameDone,
		},
		runText: "mention reply",
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(cfg, st, cache.NewMemory(), ag, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	srv.startedAt = time.Now()
	srv.sup = stream.NewSupervisor(context.Background(), logger)

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(func() {
		ts.Close()
		srv.sup.Shutdown(5 * time.Second)
		st.Close()
	})
	return &testServer{srv: srv, ts: ts, store: st, agent: ag}
}

// do sends a JSON request with the bot API key attached.
func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers == nil {
		req.Header.Set("X-API-Key", testAPIKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return m
}

// linkUser walks the full link handshake for a platform user and
// returns the account id.
func (s *testServer) linkUser(t *testing.T, plat, userID string) string {
	t.Helper()
	resp := s.do(t, "POST", "/bot/create-link-token", map[string]string{
		"platform": plat, "platform_user_id": userID, "username": userID,
	}, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("create-link-token status = %d", resp.StatusCode)
	}
	tok := decodeBody(t, resp)["token"].(string)

	resp = s.do(t, "POST", "/bot/link", map[string]string{"token": tok}, map[string]string{})
	if resp.StatusCode != 200 {
		t.Fatalf("link status = %d", resp.StatusCode)
	}
	return decodeBody(t, resp)["account_id"].(string)
}

// readSSE collects the stream events of an SSE response.
func readSSE(t *testing.T, resp *http.Response) []stream.Event {
	t.Helper()
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var events []stream.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev stream.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("bad SSE payload %q: %v", data, err)
		}
		events = append(events, ev)
		if ev.Done {
			break
		}
	}
	return events
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, "GET", "/health", nil, map[string]string{})
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestChatStreamAuth(t *testing.T) {
	s := newTestServer(t)
	req := map[string]string{"platform": "discord", "platform_user_id": "u1", "message": "hi"}

	t.Run("no credentials", func(t *testing.T) {
		resp := s.do(t, "POST", "/bot/chat-stream", req, map[string]string{})
		if resp.StatusCode != 401 {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("wrong api key", func(t *testing.T) {
		resp := s.do(t, "POST", "/bot/chat-stream", req, map[string]string{"X-API-Key": "wrong"})
		if resp.StatusCode != 401 {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("valid key but unlinked", func(t *testing.T) {
		resp := s.do(t, "POST", "/bot/chat-stream", req, nil)
		if resp.StatusCode != 403 {
			t.Errorf("status = %d, want 403", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("unknown platform", func(t *testing.T) {
		resp := s.do(t, "POST", "/bot/chat-stream",
			map[string]string{"platform": "irc", "platform_user_id": "u1", "message": "hi"}, nil)
		if resp.StatusCode != 400 {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("get not allowed", func(t *testing.T) {
		resp := s.do(t, "GET", "/bot/chat-stream", nil, nil)
		if resp.StatusCode != 405 {
			t.Errorf("status = %d, want 405", resp.StatusCode)
		}
		resp.Body.Close()
	})
}

func TestLinkHandshake(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, "POST", "/bot/create-link-token", map[string]string{
		"platform": "discord", "platform_user_id": "u1", "username": "alice",
	}, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("create-link-token status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	tok := body["token"].(string)
	if !strings.Contains(body["auth_url"].(string), "token="+tok) {
		t.Errorf("auth_url = %v", body["auth_url"])
	}

	t.Run("token info needs no bot credential", func(t *testing.T) {
		resp := s.do(t, "GET", "/bot/link-token-info/"+tok, nil, map[string]string{})
		if resp.StatusCode != 200 {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		info := decodeBody(t, resp)
		if info["platform"] != "discord" || info["username"] != "alice" {
			t.Errorf("info = %v", info)
		}
	})

	t.Run("consume creates an account and links", func(t *testing.T) {
		resp := s.do(t, "POST", "/bot/link", map[string]string{"token": tok}, map[string]string{})
		if resp.StatusCode != 200 {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		body := decodeBody(t, resp)
		if body["status"] != "linked" || body["account_id"] == "" {
			t.Errorf("body = %v", body)
		}

		// Auth status flips to linked immediately.
		resp = s.do(t, "GET", "/bot/auth-status/discord/u1", nil, nil)
		status := decodeBody(t, resp)
		if status["linked"] != true {
			t.Errorf("auth status = %v", status)
		}
	})

	t.Run("token is single use", func(t *testing.T) {
		resp := s.do(t, "POST", "/bot/link", map[string]string{"token": tok}, map[string]string{})
		if resp.StatusCode != 404 {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("already linked cannot request another token", func(t *testing.T) {
		resp := s.do(t, "POST", "/bot/create-link-token", map[string]string{
			"platform": "discord", "platform_user_id": "u1",
		}, nil)
		if resp.StatusCode != 409 {
			t.Errorf("status = %d, want 409", resp.StatusCode)
		}
		resp.Body.Close()
	})
}

func TestChatStream(t *testing.T) {
	s := newTestServer(t)
	s.linkUser(t, "discord", "u1")

	req := map[string]string{"platform": "discord", "platform_user_id": "u1", "message": "say hi"}
	resp := s.do(t, "POST", "/bot/chat-stream", req, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	events := readSSE(t, resp)

	if len(events) < 3 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[0].SessionToken == "" {
		t.Error("first event has no session token")
	}
	var text strings.Builder
	for _, ev := range events {
		text.WriteString(ev.Text)
	}
	if text.String() != "hello world" {
		t.Errorf("streamed text = %q", text.String())
	}
	last := events[len(events)-1]
	if !last.Done || last.ConversationID == "" {
		t.Fatalf("last event = %+v", last)
	}

	t.Run("exchange is persisted", func(t *testing.T) {
		waitForMessages(t, s, last.ConversationID, 2)
		msgs, err := s.store.Messages(context.Background(), last.ConversationID, 0)
		if err != nil {
			t.Fatalf("Messages failed: %v", err)
		}
		if msgs[0].Response != "say hi" || msgs[1].Response != "hello world" {
			t.Errorf("messages = %+v", msgs)
		}
	})

	t.Run("session token works as sole credential", func(t *testing.T) {
		resp := s.do(t, "POST", "/bot/chat-stream", req, map[string]string{
			"Authorization": "Bearer " + events[0].SessionToken,
		})
		if resp.StatusCode != 200 {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		evs := readSSE(t, resp)
		if evs[len(evs)-1].ConversationID != last.ConversationID {
			t.Error("session token request got a different conversation")
		}
	})

	t.Run("dm conversation is reused", func(t *testing.T) {
		resp := s.do(t, "POST", "/bot/chat-stream", req, nil)
		evs := readSSE(t, resp)
		if evs[len(evs)-1].ConversationID != last.ConversationID {
			t.Error("second stream switched conversations")
		}
	})
}

func TestChatStreamAgentError(t *testing.T) {
	s := newTestServer(t)
	s.linkUser(t, "discord", "u1")
	s.agent.streamErr = errors.New("connection refused")

	resp := s.do(t, "POST", "/bot/chat-stream",
		map[string]string{"platform": "discord", "platform_user_id": "u1", "message": "hi"}, nil)
	events := readSSE(t, resp)

	sawError := false
	for _, ev := range events {
		if ev.Error != "" {
			sawError = true
		}
	}
	if !sawError {
		t.Errorf("no error event in %+v", events)
	}
	if !events[len(events)-1].Done {
		t.Error("stream did not close with done")
	}
}

func TestChatStreamKeepaliveComment(t *testing.T) {
	s := newTestServer(t)
	s.linkUser(t, "discord", "u1")

	resp := s.do(t, "POST", "/bot/chat-stream",
		map[string]string{"platform": "discord", "platform_user_id": "u1", "message": "hi"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	sawToken := false
	sawComment := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			if strings.Contains(line, "session_token") {
				sawToken = true
			}
			if strings.Contains(line, `"done":true`) {
				break
			}
			continue
		}
		if strings.HasPrefix(line, ": ") {
			if !sawToken {
				t.Error("comment line arrived before the session token event")
			}
			sawComment = true
		}
	}
	if !sawComment {
		t.Error("stream carried no comment line after the token event")
	}
}

func TestChatStreamPartialReplyPersisted(t *testing.T) {
	s := newTestServer(t)
	s.linkUser(t, "discord", "u1")
	s.agent.frames = []string{
		agent.TextFrame("partial "),
		agent.ErrorFrame("boom"),
		agent.FrameDone,
	}

	resp := s.do(t, "POST", "/bot/chat-stream",
		map[string]string{"platform": "discord", "platform_user_id": "u1", "message": "hi"}, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	events := readSSE(t, resp)

	sawError := false
	for _, ev := range events {
		if ev.Error != "" {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("no error event in %+v", events)
	}
	convID := events[len(events)-1].ConversationID
	if convID == "" {
		t.Fatalf("last event = %+v", events[len(events)-1])
	}

	// The user saw the partial text, so it must survive the error.
	waitForMessages(t, s, convID, 2)
	msgs, err := s.store.Messages(context.Background(), convID, 0)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if msgs[1].Response != "partial " {
		t.Errorf("persisted reply = %q, want %q", msgs[1].Response, "partial ")
	}
}

func TestChatMention(t *testing.T) {
	s := newTestServer(t)

	t.Run("unlinked user gets an anonymous reply", func(t *testing.T) {
		resp := s.do(t, "POST", "/bot/chat-mention", map[string]string{
			"platform": "discord", "platform_user_id": "stranger",
			"guild_id": "g1", "message": "what is up",
		}, nil)
		if resp.StatusCode != 200 {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		body := decodeBody(t, resp)
		if body["response"] != "mention reply" || body["linked"] != false {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("linked user keeps their conversation", func(t *testing.T) {
		s.linkUser(t, "telegram", "tg1")
		resp := s.do(t, "POST", "/bot/chat-mention", map[string]string{
			"platform": "telegram", "platform_user_id": "tg1",
			"channel_id": "c1", "guild_id": "g2", "message": "hello",
		}, nil)
		body := decodeBody(t, resp)
		if body["linked"] != true {
			t.Errorf("body = %v", body)
		}

		resp = s.do(t, "POST", "/bot/chat-mention", map[string]string{
			"platform": "telegram", "platform_user_id": "tg1",
			"channel_id": "c1", "guild_id": "g2", "message": "again",
		}, nil)
		again := decodeBody(t, resp)
		if again["conversation_id"] != body["conversation_id"] {
			t.Error("linked mention switched conversations")
		}
	})

	t.Run("guild rate limit", func(t *testing.T) {
		var lastStatus int
		for i := range 6 {
			resp := s.do(t, "POST", "/bot/chat-mention", map[string]string{
				"platform":         "discord",
				"platform_user_id": fmt.Sprintf("guild-user-%d", i),
				"guild_id":         "busy-guild",
				"message":          "hi",
			}, nil)
			lastStatus = resp.StatusCode
			resp.Body.Close()
		}
		if lastStatus != 429 {
			t.Errorf("6th guild mention status = %d, want 429", lastStatus)
		}
	})
}

func TestResetSession(t *testing.T) {
	s := newTestServer(t)
	s.linkUser(t, "discord", "u1")

	req := map[string]string{"platform": "discord", "platform_user_id": "u1", "message": "hi"}
	resp := s.do(t, "POST", "/bot/chat-stream", req, nil)
	events := readSSE(t, resp)
	before := events[len(events)-1].ConversationID

	resp = s.do(t, "POST", "/bot/reset-session",
		map[string]string{"platform": "discord", "platform_user_id": "u1"}, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "reset" || body["conversation_id"] == before {
		t.Errorf("body = %v, old conversation %q", body, before)
	}

	resp = s.do(t, "POST", "/bot/chat-stream", req, nil)
	events = readSSE(t, resp)
	if after := events[len(events)-1].ConversationID; after == before {
		t.Error("stream after reset kept the old conversation")
	}
}

func TestUnlink(t *testing.T) {
	s := newTestServer(t)
	s.linkUser(t, "discord", "u1")

	resp := s.do(t, "POST", "/bot/unlink",
		map[string]string{"platform": "discord", "platform_user_id": "u1"}, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("unlink status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Trust drops immediately despite the identity cache.
	resp = s.do(t, "POST", "/bot/chat-stream",
		map[string]string{"platform": "discord", "platform_user_id": "u1", "message": "hi"}, nil)
	if resp.StatusCode != 403 {
		t.Errorf("chat-stream after unlink status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	// A second unlink finds nothing.
	resp = s.do(t, "POST", "/bot/unlink",
		map[string]string{"platform": "discord", "platform_user_id": "u1"}, nil)
	if resp.StatusCode != 404 {
		t.Errorf("second unlink status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSettings(t *testing.T) {
	s := newTestServer(t)

	t.Run("unlinked is forbidden", func(t *testing.T) {
		resp := s.do(t, "GET", "/bot/settings/discord/u1", nil, nil)
		if resp.StatusCode != 403 {
			t.Errorf("status = %d, want 403", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("linked user sees their links", func(t *testing.T) {
		acctID := s.linkUser(t, "discord", "u1")
		resp := s.do(t, "GET", "/bot/settings/discord/u1", nil, nil)
		if resp.StatusCode != 200 {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		body := decodeBody(t, resp)
		if body["account_id"] != acctID {
			t.Errorf("account_id = %v, want %q", body["account_id"], acctID)
		}
		links := body["platform_links"].(map[string]any)
		if _, ok := links["discord"]; !ok {
			t.Errorf("platform_links = %v", links)
		}
	})
}

// waitForMessages polls until the conversation holds want messages; the
// producer persists in the background after the stream closes.
func waitForMessages(t *testing.T, s *testServer, conversationID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs, err := s.store.Messages(context.Background(), conversationID, 0)
		if err == nil && len(msgs) >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("conversation %s never reached %d messages", conversationID, want)
}
