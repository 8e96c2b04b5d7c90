// Package health serves the operational HTTP endpoints of a running
// speakwell process.
//
// Three routes are registered:
//
//   - /healthz is the liveness probe and always returns 200 OK.
//   - /readyz returns 200 only when all registered [Checker] functions pass.
//   - /metrics exposes the Prometheus registry fed by the OpenTelemetry
//     exporter installed by observe.InitProvider.
//
// Probe responses are JSON: a top-level "status" of "ok" or "fail" and, for
// /readyz, a "checks" object with the outcome and latency of each checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/speakwell/internal/observe"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is usable and must honour ctx.
type Checker struct {
	// Name keys the check in the response, e.g. "history" or "evaluator".
	Name  string
	Check func(ctx context.Context) error
}

type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

type checkResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed"`
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
	metrics  http.Handler
}

// New returns a Handler whose /readyz runs checkers concurrently and whose
// /metrics serves the default Prometheus registry.
func New(checkers ...Checker) *Handler {
	return NewWithGatherer(prometheus.DefaultGatherer, checkers...)
}

// NewWithGatherer is [New] with /metrics served from g.
func NewWithGatherer(g prometheus.Gatherer, checkers ...Checker) *Handler {
	return &Handler{
		checkers: slices.Clone(checkers),
		metrics:  promhttp.HandlerFor(g, promhttp.HandlerOpts{}),
	}
}

// Healthz always answers 200: the process is up.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz answers 200 when every checker passes and 503 otherwise. A slow
// history backend does not delay the evaluator check.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]checkResult, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(ctx)
			res := checkResult{Status: "ok", Elapsed: time.Since(start).Round(time.Millisecond).String()}
			if err != nil {
				res.Status, res.Error = "fail", err.Error()
			}
			results[i] = res
		})
	}
	wg.Wait()

	rep := report{Status: "ok", Checks: make(map[string]checkResult, len(results))}
	code := http.StatusOK
	for i, res := range results {
		rep.Checks[h.checkers[i].Name] = res
		if res.Status != "ok" {
			rep.Status, code = "fail", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, rep)
}

// Register adds the /healthz, /readyz and /metrics routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.Handle("GET /metrics", h.metrics)
}

// Server runs the probe endpoints on a TCP listener for the lifetime of a
// CLI command.
type Server struct {
	srv *http.Server
	ln  net.Listener
	log *slog.Logger
}

// Listen binds addr and prepares a server for h. Requests pass through
// [observe.Middleware] so each probe is traced and timed with m.
func Listen(addr string, h *Handler, m *observe.Metrics, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	h.Register(mux)
	return &Server{
		srv: &http.Server{
			Handler:           observe.Middleware(m)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:  ln,
		log: log,
	}, nil
}

// Addr returns the bound address, useful when addr was ":0".
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve blocks until ctx is cancelled, then shuts the server down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(s.ln) }()
	s.log.Info("health endpoints listening", "addr", s.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("health server shutdown", "err", err)
	}
	return nil
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: encode response", "err", err)
	}
}
