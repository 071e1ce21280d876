package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/glia-ai/glia/pkg/glia/agent"
	"github.com/glia-ai/glia/pkg/glia/chat"
	"github.com/glia-ai/glia/pkg/glia/ratelimit"
	"github.com/glia-ai/glia/pkg/glia/store"
	"github.com/glia-ai/glia/pkg/glia/stream"
)

// persistTimeout bounds the write of one finished exchange.
const persistTimeout = 10 * time.Second

// chatRequest is the body of /bot/chat-stream and /bot/chat-mention.
type chatRequest struct {
	Platform       string `json:"platform"`
	PlatformUserID string `json:"platform_user_id"`
	ChannelID      string `json:"channel_id,omitempty"`
	GuildID        string `json:"guild_id,omitempty"`
	Message        string `json:"message"`
}

// handleChatStream implements POST /bot/chat-stream.
//
// The agent producer runs as a supervised background task and talks to
// the handler only through pub/sub, so persistence of the finished
// exchange does not depend on the client staying connected.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", 405)
		return
	}
	var req chatRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	p, ok := s.parsePlatform(w, req.Platform)
	if !ok {
		return
	}
	if req.Message == "" || req.PlatformUserID == "" {
		s.writeError(w, "message and platform_user_id required", 400)
		return
	}

	id := s.resolve(r, p, req.PlatformUserID)
	if !id.Authenticated() {
		s.writeError(w, "authentication required", 401)
		return
	}
	if !id.Linked() {
		s.writeError(w, "account not linked", 403)
		return
	}

	if !s.userLimit.Allow(r.Context(), ratelimit.UserKey(p, req.PlatformUserID)) {
		s.writeError(w, "rate limit exceeded", 429)
		return
	}

	sess, err := s.sessions.ResolveOrCreate(r.Context(), id.AccountID, p, req.PlatformUserID, req.ChannelID)
	if err != nil {
		s.logger.Error("session resolution failed", "error", err)
		s.writeError(w, "internal error", 500)
		return
	}

	fresh, err := s.issuer.Issue(id.AccountID, p, req.PlatformUserID)
	if err != nil {
		s.logger.Error("token issue failed", "error", err)
		s.writeError(w, "internal error", 500)
		return
	}

	// Subscribe before spawning the producer so no frame is lost.
	streamID := uuid.NewString()
	channel := "stream:" + streamID
	sub, err := s.backend.Subscribe(r.Context(), channel)
	if err != nil {
		s.logger.Error("stream subscribe failed", "error", err)
		s.writeError(w, "internal error", 500)
		return
	}
	defer sub.Close()

	sess2 := *sess
	msg := req.Message
	s.sup.Go("produce:"+streamID, func(ctx context.Context) {
		s.produce(ctx, channel, &sess2, msg)
	})

	sse, err := newSSEWriter(w)
	if err != nil {
		s.writeError(w, err.Error(), 500)
		return
	}
	// First event refreshes the bot's session token; the comment line
	// establishes liveness before the agent starts producing.
	if err := sse.WriteEvent(stream.Event{SessionToken: fresh}); err != nil {
		return
	}
	if err := sse.WriteComment("keepalive"); err != nil {
		return
	}

	if _, err := s.relay.Run(r.Context(), sub.Messages(), sess.ConversationID, sse.WriteEvent); err != nil {
		s.logger.Debug("stream relay ended early", "stream_id", streamID, "error", err)
	}
}

// produce streams one agent reply into the pub/sub channel and
// persists the finished exchange. Runs under the supervisor, on the
// server lifetime, not the request lifetime.
func (s *Server) produce(ctx context.Context, channel string, sess *store.BotSession, message string) {
	publish := func(frame string) {
		if err := s.backend.Publish(ctx, channel, frame); err != nil {
			s.logger.Warn("frame publish failed", "channel", channel, "error", err)
		}
	}

	history, err := chat.History(ctx, s.store, sess.ConversationID, 0)
	if err != nil {
		s.logger.Error("history load failed", "conversation_id", sess.ConversationID, "error", err)
		history = nil
	}

	frames, err := s.agent.Stream(ctx, agent.Request{
		System:  s.cfg.Agent.SystemPrompt,
		History: history,
		Prompt:  message,
	})
	if err != nil {
		s.logger.Error("agent stream failed", "error", err)
		publish(agent.ErrorFrame("assistant unavailable"))
		publish(agent.FrameDone)
		return
	}

	var acc stream.Accumulator
	doneSeen := false
	for raw := range frames {
		f := stream.ParseFrame(raw)
		acc.Apply(f)
		if f.Kind == stream.FrameDone {
			doneSeen = true
		}
		publish(raw)
	}
	if !doneSeen {
		publish(agent.FrameDone)
	}

	// Partial replies from errored streams are kept: the user saw the
	// text, so the next history load must include it.
	if acc.Text() == "" {
		return
	}

	// Persist even when the supervisor is shutting down: the reply was
	// already produced, losing it would desync the next history load.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	s.persister.SaveExchange(pctx, sess.ConversationID, message, acc.Text())
}

// handleChatMention implements POST /bot/chat-mention: foreground,
// non-streaming chat for group mentions. Unlinked users get a
// throwaway anonymous conversation.
func (s *Server) handleChatMention(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", 405)
		return
	}
	var req chatRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	p, ok := s.parsePlatform(w, req.Platform)
	if !ok {
		return
	}
	if req.Message == "" || req.PlatformUserID == "" {
		s.writeError(w, "message and platform_user_id required", 400)
		return
	}

	id := s.resolve(r, p, req.PlatformUserID)
	if !id.Authenticated() {
		s.writeError(w, "authentication required", 401)
		return
	}

	if !s.userLimit.Allow(r.Context(), ratelimit.UserKey(p, req.PlatformUserID)) {
		s.writeError(w, "rate limit exceeded", 429)
		return
	}
	if req.GuildID != "" && !s.guildLim.Allow(r.Context(), ratelimit.GuildKey(p, req.GuildID)) {
		s.writeError(w, "guild rate limit exceeded", 429)
		return
	}

	var (
		sess    *store.BotSession
		history []agent.Turn
		err     error
	)
	if id.Linked() {
		sess, err = s.sessions.ResolveOrCreate(r.Context(), id.AccountID, p, req.PlatformUserID, req.ChannelID)
		if err == nil {
			history, _ = chat.History(r.Context(), s.store, sess.ConversationID, 0)
		}
	} else {
		sess, err = s.sessions.CreateAnonymous(r.Context(), p, req.PlatformUserID)
	}
	if err != nil {
		s.logger.Error("session resolution failed", "error", err)
		s.writeError(w, "internal error", 500)
		return
	}

	resp, err := s.agent.Run(r.Context(), agent.Request{
		System:  s.cfg.Agent.SystemPrompt,
		History: history,
		Prompt:  req.Message,
	})
	if err != nil {
		s.logger.Error("agent run failed", "error", err)
		s.writeError(w, "assistant unavailable", 502)
		return
	}

	s.persister.SaveExchange(r.Context(), sess.ConversationID, req.Message, resp)

	s.writeJSON(w, 200, map[string]any{
		"response":        resp,
		"conversation_id": sess.ConversationID,
		"linked":          id.Linked(),
	})
}

// handleResetSession implements POST /bot/reset-session.
func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", 405)
		return
	}
	var req chatRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	p, ok := s.parsePlatform(w, req.Platform)
	if !ok {
		return
	}
	if req.PlatformUserID == "" {
		s.writeError(w, "platform_user_id required", 400)
		return
	}

	id := s.resolve(r, p, req.PlatformUserID)
	if !id.Authenticated() {
		s.writeError(w, "authentication required", 401)
		return
	}
	if !id.Linked() {
		s.writeError(w, "account not linked", 403)
		return
	}

	sess, err := s.sessions.Reset(r.Context(), id.AccountID, p, req.PlatformUserID, req.ChannelID)
	if err != nil {
		s.logger.Error("session reset failed", "error", err)
		s.writeError(w, "internal error", 500)
		return
	}

	s.writeJSON(w, 200, map[string]any{
		"status":          "reset",
		"conversation_id": sess.ConversationID,
	})
}
