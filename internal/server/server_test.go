package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/shared"
)

func quietLogger() *log.Logger {
	return shared.NewLogger(io.Discard)
}

// fakeEngine records the commands it receives.
type fakeEngine struct {
	mu          sync.Mutex
	state       models.State
	transitions []models.StateTransition
	calls       []string
	pauseReason string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{state: models.StateRunning}
}

func (f *fakeEngine) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) Snapshot() models.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.Snapshot{
		Service:   models.ServiceState{State: f.state, Reason: "test"},
		QueueSize: 2,
		Stats:     models.DailyStats{Date: "2025-03-01", AddedCount: 4},
	}
}

func (f *fakeEngine) Transitions(limit int) []models.StateTransition {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts := f.transitions
	if limit > 0 && len(ts) > limit {
		ts = ts[len(ts)-limit:]
	}
	return ts
}

func (f *fakeEngine) Pause(reason string) models.StateTransition {
	f.record("pause")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseReason = reason
	t := models.StateTransition{From: f.state, To: models.StatePaused, Reason: reason}
	f.state = models.StatePaused
	return t
}

func (f *fakeEngine) Resume(reason string) models.StateTransition {
	f.record("resume")
	f.mu.Lock()
	defer f.mu.Unlock()
	t := models.StateTransition{From: f.state, To: models.StateRunning, Reason: reason}
	f.state = models.StateRunning
	return t
}

func (f *fakeEngine) RequestCheck()  { f.record("check") }
func (f *fakeEngine) RequestAudit()  { f.record("audit") }
func (f *fakeEngine) RequestRetry()  { f.record("retry") }
func (f *fakeEngine) RequestExport() { f.record("export") }
func (f *fakeEngine) RequestReauth() { f.record("reauth") }

type fakeHistory struct {
	ts  []models.StateTransition
	err error
}

func (f *fakeHistory) List(ctx context.Context, limit int) ([]models.StateTransition, error) {
	return f.ts, f.err
}

func TestBasicRouter(t *testing.T) {
	t.Run("middleware order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("outer"), mark("inner"))
		r.Handle("get", "/x", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "handler")
		}), mark("route"))

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

		want := "outer,inner,route,handler"
		if got := strings.Join(order, ","); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("method mismatch", func(t *testing.T) {
		r := NewBasicRouter()
		r.Handle(http.MethodGet, "/x", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})
}

func TestAdminSurface(t *testing.T) {
	newServer := func(t *testing.T, engine *fakeEngine, history TransitionLister, limit int) *httptest.Server {
		t.Helper()
		srv := httptest.NewServer(NewHandler(Options{
			Engine:         engine,
			History:        history,
			Logger:         quietLogger(),
			AdminRateLimit: limit,
		}))
		t.Cleanup(srv.Close)
		return srv
	}

	t.Run("healthz", func(t *testing.T) {
		srv := newServer(t, newFakeEngine(), nil, 0)
		resp, err := http.Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
	})

	t.Run("status", func(t *testing.T) {
		srv := newServer(t, newFakeEngine(), nil, 0)
		resp, err := http.Get(srv.URL + "/status")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		var snap models.Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			t.Fatalf("failed to decode snapshot: %v", err)
		}
		if snap.Service.State != models.StateRunning || snap.QueueSize != 2 || snap.Stats.AddedCount != 4 {
			t.Errorf("unexpected snapshot %+v", snap)
		}
	})

	t.Run("admin commands", func(t *testing.T) {
		engine := newFakeEngine()
		srv := newServer(t, engine, nil, 0)

		for _, action := range []string{"check", "audit", "retry", "export", "reauth", "pause", "resume"} {
			resp, err := http.Post(srv.URL+"/admin/"+action, "application/json", nil)
			if err != nil {
				t.Fatal(err)
			}
			var body actionResponse
			json.NewDecoder(resp.Body).Decode(&body)
			resp.Body.Close()

			if resp.StatusCode != http.StatusAccepted {
				t.Errorf("%s: expected 202, got %d", action, resp.StatusCode)
			}
			if !body.Accepted || body.Action != action {
				t.Errorf("%s: unexpected body %+v", action, body)
			}
		}

		want := "check,audit,retry,export,reauth,pause,resume"
		if got := strings.Join(engine.Calls(), ","); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("pause reason", func(t *testing.T) {
		engine := newFakeEngine()
		srv := newServer(t, engine, nil, 0)

		resp, err := http.Post(srv.URL+"/admin/pause", "application/json", strings.NewReader(`{"reason":"maintenance"}`))
		if err != nil {
			t.Fatal(err)
		}
		var body actionResponse
		json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()

		if engine.pauseReason != "maintenance" || body.State != models.StatePaused {
			t.Errorf("unexpected pause: reason %q, body %+v", engine.pauseReason, body)
		}

		resp, _ = http.Post(srv.URL+"/admin/pause", "application/json", strings.NewReader(`{"reason":`))
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400 for a malformed body, got %d", resp.StatusCode)
		}
	})

	t.Run("admin routes reject GET", func(t *testing.T) {
		srv := newServer(t, newFakeEngine(), nil, 0)
		resp, err := http.Get(srv.URL + "/admin/pause")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", resp.StatusCode)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		srv := newServer(t, newFakeEngine(), nil, 2)

		var last int
		for range 3 {
			resp, err := http.Post(srv.URL+"/admin/check", "application/json", nil)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			last = resp.StatusCode
		}
		if last != http.StatusTooManyRequests {
			t.Errorf("expected 429 on the third request, got %d", last)
		}

		resp, _ := http.Get(srv.URL + "/status")
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status should not be rate limited, got %d", resp.StatusCode)
		}
	})

	t.Run("transitions", func(t *testing.T) {
		engine := newFakeEngine()
		engine.transitions = []models.StateTransition{{Seq: 1}, {Seq: 2}, {Seq: 3}}

		t.Run("from memory", func(t *testing.T) {
			srv := newServer(t, engine, nil, 0)
			resp, err := http.Get(srv.URL + "/transitions?limit=2")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			var ts []models.StateTransition
			json.NewDecoder(resp.Body).Decode(&ts)
			if len(ts) != 2 || ts[0].Seq != 2 {
				t.Errorf("unexpected transitions %+v", ts)
			}
		})

		t.Run("from history", func(t *testing.T) {
			srv := newServer(t, engine, &fakeHistory{ts: []models.StateTransition{{Seq: 9}}}, 0)
			resp, err := http.Get(srv.URL + "/transitions")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			var ts []models.StateTransition
			json.NewDecoder(resp.Body).Decode(&ts)
			if len(ts) != 1 || ts[0].Seq != 9 {
				t.Errorf("unexpected transitions %+v", ts)
			}
		})

		t.Run("unflushed transitions are appended", func(t *testing.T) {
			history := &fakeHistory{ts: []models.StateTransition{{Seq: 1}, {Seq: 2}}}
			srv := newServer(t, engine, history, 0)

			tests := []struct {
				query string
				want  []int64
			}{
				{query: "", want: []int64{1, 2, 3}},
				{query: "?limit=2", want: []int64{2, 3}},
			}
			for _, tt := range tests {
				resp, err := http.Get(srv.URL + "/transitions" + tt.query)
				if err != nil {
					t.Fatal(err)
				}
				var ts []models.StateTransition
				json.NewDecoder(resp.Body).Decode(&ts)
				resp.Body.Close()

				var seqs []int64
				for _, tr := range ts {
					seqs = append(seqs, tr.Seq)
				}
				if !slices.Equal(seqs, tt.want) {
					t.Errorf("%q: expected seqs %v, got %v", tt.query, tt.want, seqs)
				}
			}
		})

		t.Run("history failure", func(t *testing.T) {
			srv := newServer(t, engine, &fakeHistory{err: errors.New("disk")}, 0)
			resp, err := http.Get(srv.URL + "/transitions")
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusInternalServerError {
				t.Errorf("expected 500, got %d", resp.StatusCode)
			}
		})

		t.Run("bad limit", func(t *testing.T) {
			srv := newServer(t, engine, nil, 0)
			resp, err := http.Get(srv.URL + "/transitions?limit=abc")
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
		})
	})

	t.Run("metrics", func(t *testing.T) {
		srv := newServer(t, newFakeEngine(), nil, 0)
		http.Get(srv.URL + "/healthz")

		resp, err := http.Get(srv.URL + "/metrics")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), "onair_http_requests_total") {
			t.Error("expected request counter in exposition")
		}
	})

	t.Run("recovers panics", func(t *testing.T) {
		r := NewBasicRouter()
		r.Use(RequestLogger(quietLogger()), middleware.Recoverer)
		r.Handle(http.MethodGet, "/boom", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))

		srv := httptest.NewServer(r)
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/boom")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", resp.StatusCode)
		}
	})
}

type mockHTTPServer struct {
	listenErr   error
	shutdownErr error
	stop        chan struct{}
	shutdowns   int
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{stop: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stop
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(ctx context.Context) error {
	m.shutdowns++
	close(m.stop)
	return m.shutdownErr
}

func TestHTTPService(t *testing.T) {
	t.Run("graceful shutdown", func(t *testing.T) {
		mock := newMockHTTPServer()
		svc := NewHTTPService(mock, time.Second, quietLogger())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()

		cancel()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return")
		}
		if mock.shutdowns != 1 {
			t.Errorf("expected one shutdown, got %d", mock.shutdowns)
		}
	})

	t.Run("listen failure", func(t *testing.T) {
		mock := newMockHTTPServer()
		mock.listenErr = errors.New("address in use")

		err := NewHTTPService(mock, 0, nil).Serve(context.Background())
		if err == nil || !strings.Contains(err.Error(), "address in use") {
			t.Errorf("expected listen error, got %v", err)
		}
	})

	t.Run("shutdown failure", func(t *testing.T) {
		mock := newMockHTTPServer()
		mock.shutdownErr = errors.New("stuck")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := NewHTTPService(mock, time.Second, quietLogger()).Serve(ctx); err == nil || !strings.Contains(err.Error(), "stuck") {
			t.Errorf("expected shutdown error, got %v", err)
		}
	})

	if got := NewHTTPService(newMockHTTPServer(), 0, nil).String(); got != "http-server" {
		t.Errorf("unexpected name %q", got)
	}
}
