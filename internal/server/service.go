package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/desertthunder/onair/internal/events"
)

// Options configures [NewHandler].
type Options struct {
	Engine         Engine
	Bus            *events.Bus
	History        TransitionLister // optional
	Logger         *log.Logger
	AdminRateLimit int // requests per minute per client, 0 disables
}

// NewHandler builds the full admin and status surface:
//
//	GET  /healthz, /status, /transitions, /metrics, /ws/events
//	POST /admin/{pause,resume,check,audit,retry,export,reauth}
func NewHandler(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	r := NewBasicRouter()
	r.Use(middleware.RequestID, middleware.RealIP, RequestLogger(logger), middleware.Recoverer)

	admin := NewAdminHandler(opts.Engine, opts.History, logger)
	r.Handle(http.MethodGet, "/healthz", http.HandlerFunc(admin.Health))
	r.Handle(http.MethodGet, "/status", http.HandlerFunc(admin.Status))
	r.Handle(http.MethodGet, "/transitions", http.HandlerFunc(admin.Transitions))
	r.Handle(http.MethodGet, "/metrics", promhttp.Handler())

	limit := AdminRateLimit(opts.AdminRateLimit)
	r.Handle(http.MethodPost, "/admin/pause", http.HandlerFunc(admin.Pause), limit)
	r.Handle(http.MethodPost, "/admin/resume", http.HandlerFunc(admin.Resume), limit)
	r.Handle(http.MethodPost, "/admin/check", admin.signal("check", opts.Engine.RequestCheck), limit)
	r.Handle(http.MethodPost, "/admin/audit", admin.signal("audit", opts.Engine.RequestAudit), limit)
	r.Handle(http.MethodPost, "/admin/retry", admin.signal("retry", opts.Engine.RequestRetry), limit)
	r.Handle(http.MethodPost, "/admin/export", admin.signal("export", opts.Engine.RequestExport), limit)
	r.Handle(http.MethodPost, "/admin/reauth", admin.signal("reauth", opts.Engine.RequestReauth), limit)

	if opts.Bus != nil {
		r.Handler(NewEventsHandler(opts.Bus, logger))
	}
	return r
}

// HTTPServer matches the lifecycle methods of [http.Server].
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server under a suture supervisor.
//
// Serve returns when ctx is cancelled, after a graceful shutdown bounded by the shutdown timeout.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	logger          *log.Logger
}

// NewHTTPService wraps server. A non-positive timeout defaults to 10s.
func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration, logger *log.Logger) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout, logger: logger}
}

func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if srv, ok := s.server.(*http.Server); ok {
		s.logger.Info("http server listening", "addr", srv.Addr)
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPService) String() string { return "http-server" }
