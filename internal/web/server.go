// Package web exposes the recovery flow over HTTP.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/louisbranch/rekey/internal/recovery"
)

// SessionCookieName carries the signed session token after a successful
// recovery.
const SessionCookieName = "rekey_session"

// Recoverer is the orchestration surface the HTTP adapter drives.
type Recoverer interface {
	IssueToken(ctx context.Context, email string) (recovery.IssuedToken, error)
	BeginRecovery(ctx context.Context, email string, token string) (json.RawMessage, error)
	CompleteRecovery(ctx context.Context, params recovery.CompleteParams) (recovery.Attached, error)
	CleanupExpired(ctx context.Context) error
}

// Server hosts the recovery HTTP endpoints.
type Server struct {
	recoverer  Recoverer
	clock      func() time.Time
	redirectTo string
}

// NewServer builds a web server around the recovery orchestrator.
func NewServer(recoverer Recoverer) *Server {
	return &Server{
		recoverer:  recoverer,
		clock:      time.Now,
		redirectTo: "/",
	}
}

// RegisterRoutes registers recovery endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/recovery/options", s.handleRecoveryOptions)
	mux.HandleFunc("/recovery/request", s.handleRecoveryRequest)
	mux.HandleFunc("/recovery", s.handleRecovery)
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// Handler returns the full route set wrapped with HTTP tracing.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return otelhttp.NewHandler(mux, "rekey.web")
}

// StartCleanup starts periodic expiry cleanup for recovery artifacts.
//
// This keeps consumed tokens and stale challenge sessions from accumulating
// without requiring a separate maintenance process.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration) {
	if s == nil || s.recoverer == nil || interval <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.recoverer.CleanupExpired(ctx)
			}
		}
	}()
}
