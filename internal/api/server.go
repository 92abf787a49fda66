// ABOUTME: HTTP server wiring for the agent gateway
// ABOUTME: Routes, lifecycle, graceful shutdown, and the expiry sweep loop

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ddudl/agentgate/internal/admin"
	"github.com/ddudl/agentgate/internal/auth"
	"github.com/ddudl/agentgate/internal/config"
	"github.com/ddudl/agentgate/internal/store"
)

// Server is the HTTP front of the gateway. It owns no protocol state; all
// decisions are delegated to the auth services.
type Server struct {
	cfg    *config.Config
	store  *store.SQLiteStore
	logger *slog.Logger

	challenges *auth.Challenges
	registry   *auth.Registry
	issuer     *auth.Issuer
	gate       *auth.Gate

	adminVerifier *admin.Verifier
	adminService  *admin.Service

	httpServer *http.Server
}

// NewServer wires the full service stack over one store.
func NewServer(cfg *config.Config, st *store.SQLiteStore, logger *slog.Logger) *Server {
	challenges := auth.NewChallenges(st, cfg.PoW, logger)
	registry := auth.NewRegistry(st, challenges, logger)
	issuer := auth.NewIssuer(st, challenges, registry, cfg.Tokens.TTL, logger)
	limiter := auth.NewLimiter(st, cfg.Limits, logger)
	gate := auth.NewGate(st, registry, limiter, logger)

	s := &Server{
		cfg:          cfg,
		store:        st,
		logger:       logger.With("component", "api"),
		challenges:   challenges,
		registry:     registry,
		issuer:       issuer,
		gate:         gate,
		adminService: admin.NewService(st, logger),
	}

	if cfg.Admin.JWTSecret != "" {
		s.adminVerifier = admin.NewVerifier(cfg.Admin.JWTSecret)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// routes builds the request mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/challenge", s.handleChallenge)
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/verify", s.handleVerify)

	mux.HandleFunc("/posts", s.handlePosts)
	mux.HandleFunc("/posts/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/posts/")
		postID, ok := strings.CutSuffix(rest, "/vote")
		if !ok {
			sendJSONError(w, http.StatusNotFound, "not found")
			return
		}
		s.handleVote(w, r, postID)
	})
	mux.HandleFunc("/comments", s.handleComments)

	mux.HandleFunc("/admin/agents", s.requireAdmin(s.handleAdminAgents))
	mux.HandleFunc("/admin/agents/", s.requireAdmin(s.handleAdminAgent))
	mux.HandleFunc("/admin/audit", s.requireAdmin(s.handleAdminAudit))

	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully. The expiry sweep runs alongside the listener.
func (s *Server) Run(ctx context.Context) error {
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go s.sweepLoop(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// sweepLoop periodically deletes long-expired challenges and tokens. The
// grace period keeps recently expired rows visible so late consumption
// attempts are classified as expired rather than unknown.
func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Sweep.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.cfg.Sweep.Grace)

			challenges, err := s.store.DeleteExpiredChallenges(ctx, cutoff)
			if err != nil {
				s.logger.Error("sweeping challenges", "error", err)
			}
			tokens, err := s.store.DeleteExpiredTokens(ctx, cutoff)
			if err != nil {
				s.logger.Error("sweeping tokens", "error", err)
			}

			if challenges > 0 || tokens > 0 {
				s.logger.Info("expiry sweep", "challenges", challenges, "tokens", tokens)
			}
		}
	}
}
