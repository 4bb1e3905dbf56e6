// Package httpapi exposes inbox ingestion over HTTP with gin.
//
// POST /v1/inbox/:source/:topic runs the JSON body through the source's Inbox, keyed by the X-Message-Id
// header, and publishes it on the configured Transport exactly once per id.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/velmie/messaging"
)

const (
	// HeaderMessageID carries the inbound message id.
	HeaderMessageID = "X-Message-Id"
	// HeaderRequestID is echoed on every response.
	HeaderRequestID = "X-Request-Id"

	shutdownTimeout = 5 * time.Second
)

// Server routes inbox requests to per-source inboxes.
type Server struct {
	engine    *gin.Engine
	store     messaging.InboxStore
	transport messaging.Transport
	opts      []messaging.Option
	logger    messaging.Logger

	mu      sync.Mutex
	inboxes map[string]*messaging.Inbox
}

// New builds a Server. opts are passed to every Inbox it creates; the logger also logs requests.
func New(store messaging.InboxStore, transport messaging.Transport, logger messaging.Logger, opts ...messaging.Option) (*Server, error) {
	if store == nil {
		return nil, messaging.ErrStoreRequired
	}
	if transport == nil {
		return nil, messaging.ErrTransportRequired
	}
	if logger == nil {
		logger = messaging.NopLogger{}
	}

	s := &Server{
		store:     store,
		transport: transport,
		opts:      append([]messaging.Option{messaging.WithLogger(logger)}, opts...),
		logger:    logger,
		inboxes:   make(map[string]*messaging.Inbox),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), requestLog(logger))
	engine.GET("/healthz", s.health)
	engine.POST("/v1/inbox/:source/:topic", s.ingest)
	engine.POST("/v1/inbox/:source/ack/:id", s.ack)
	s.engine = engine

	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("httpapi.listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("httpapi.stopped", "addr", addr)

	return nil
}

func (s *Server) inbox(source string) (*messaging.Inbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in, ok := s.inboxes[source]; ok {
		return in, nil
	}
	in, err := messaging.NewInbox(s.store, source, s.opts...)
	if err != nil {
		return nil, err
	}
	s.inboxes[source] = in

	return in, nil
}
