// Package server provides the HTTP API platform bots talk to: link
// handshake, streaming chat, mention chat, session control.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/glia-ai/glia/pkg/glia/agent"
	"github.com/glia-ai/glia/pkg/glia/auth"
	"github.com/glia-ai/glia/pkg/glia/cache"
	"github.com/glia-ai/glia/pkg/glia/chat"
	"github.com/glia-ai/glia/pkg/glia/config"
	"github.com/glia-ai/glia/pkg/glia/link"
	"github.com/glia-ai/glia/pkg/glia/ratelimit"
	"github.com/glia-ai/glia/pkg/glia/session"
	"github.com/glia-ai/glia/pkg/glia/store"
	"github.com/glia-ai/glia/pkg/glia/stream"
	"github.com/glia-ai/glia/pkg/glia/token"
)

// shutdownTimeout bounds how long Stop waits for background producers.
const shutdownTimeout = 30 * time.Second

// Server is the bot-facing HTTP API.
type Server struct {
	cfg       *config.Config
	store     store.Store
	backend   cache.Backend
	agent     agent.Agent
	issuer    *token.Issuer
	resolver  *auth.Resolver
	sessions  *session.Manager
	relay     *stream.Relay
	links     *link.Service
	persister *chat.Persister
	userLimit *ratelimit.Limiter
	guildLim  *ratelimit.Limiter
	sup       *stream.Supervisor

	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time
}

// New wires the server from its dependencies.
func New(cfg *config.Config, st store.Store, backend cache.Backend, ag agent.Agent, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	issuer, err := token.NewIssuer(cfg.Auth.SessionTokenSecret, cfg.Auth.SessionTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("session token issuer: %w", err)
	}

	return &Server{
		cfg:       cfg,
		store:     st,
		backend:   backend,
		agent:     ag,
		issuer:    issuer,
		resolver:  auth.NewResolver(st, backend, issuer, cfg.Auth.BotAPIKey, logger),
		sessions:  session.NewManager(st, logger),
		relay:     stream.NewRelay(logger),
		links:     link.NewService(backend, st, cfg.Server.FrontendURL, logger),
		persister: chat.NewPersister(st, logger),
		userLimit: ratelimit.New(backend, cfg.RateLimit.UserPerMinute, ratelimit.DefaultWindow, logger),
		guildLim:  ratelimit.New(backend, cfg.RateLimit.GuildPerMinute, ratelimit.DefaultWindow, logger),
		logger:    logger.With("component", "server"),
	}, nil
}

// routes builds the request handler with the middleware chain applied.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health (always public)
	mux.HandleFunc("/health", s.handleHealth)

	// Link handshake
	mux.HandleFunc("/bot/create-link-token", s.handleCreateLinkToken)
	mux.HandleFunc("/bot/link-token-info/", s.handleLinkTokenInfo)
	mux.HandleFunc("/bot/link", s.handleLink)
	mux.HandleFunc("/bot/unlink", s.handleUnlink)

	// Chat
	mux.HandleFunc("/bot/chat-stream", s.handleChatStream)
	mux.HandleFunc("/bot/chat-mention", s.handleChatMention)
	mux.HandleFunc("/bot/reset-session", s.handleResetSession)

	// Account
	mux.HandleFunc("/bot/auth-status/", s.handleAuthStatus)
	mux.HandleFunc("/bot/settings/", s.handleSettings)

	return s.securityHeadersMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server. The supervisor for background
// producers is rooted at ctx.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()
	s.sup = stream.NewSupervisor(ctx, s.logger)

	s.server = &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.routes(),
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
		}
	}()
	s.logger.Info("server started", "address", s.cfg.Addr())
	return nil
}

// Stop shuts the listener down and waits for background producers to
// drain.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("server stopping...")
	err := s.server.Shutdown(ctx)
	if s.sup != nil {
		s.sup.Shutdown(shutdownTimeout)
	}
	return err
}
