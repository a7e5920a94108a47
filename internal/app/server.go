// Package app wires the recovery service and hosts its HTTP listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/rekey/internal/outbox"
	"github.com/louisbranch/rekey/internal/recovery"
	"github.com/louisbranch/rekey/internal/session"
	"github.com/louisbranch/rekey/internal/storage/sqlite"
	"github.com/louisbranch/rekey/internal/web"
)

const (
	cleanupInterval  = 5 * time.Minute
	dispatchInterval = 5 * time.Second
	outboxConsumer   = "rekey-dispatcher"
)

// Server hosts the recovery service.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *sqlite.Store
	webServer  *web.Server
	dispatcher *outbox.Dispatcher
}

// New creates a configured recovery server listening on the provided address.
func New(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := openStore()
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	sessionConfig, err := session.LoadConfigFromEnv()
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}
	sessions := session.NewManager(store, sessionConfig)
	recoveryService := recovery.NewService(store, sessions)
	webServer := web.NewServer(recoveryService)
	dispatcher := outbox.NewDispatcher(store, nil, outboxConsumer)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: webServer.Handler()},
		store:      store,
		webServer:  webServer,
		dispatcher: dispatcher,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a recovery server until the context ends.
func Run(ctx context.Context, addr string) error {
	server, err := New(addr)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.webServer.StartCleanup(serverCtx, cleanupInterval)
	go s.dispatcher.Run(serverCtx, dispatchInterval)

	log.Printf("recovery server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}

	select {
	case <-ctx.Done():
		shutdown()
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

func openStore() (*sqlite.Store, error) {
	path := strings.TrimSpace(os.Getenv("REKEY_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "rekey.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}
}
