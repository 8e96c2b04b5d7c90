package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/speakwell/internal/app"
	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/internal/health"
	"github.com/MrWong99/speakwell/internal/history"
	"github.com/MrWong99/speakwell/internal/resilience"
)

// buildProviders instantiates the collaborators named in the config using
// the registry. The returned close function releases the history store.
func buildProviders(deps *Dependencies, withEvaluator bool) (*app.Providers, *resilience.EvaluatorFallback, func(), error) {
	cfg := deps.Config
	log := deps.Logger
	ps := &app.Providers{}

	var fb *resilience.EvaluatorFallback
	if withEvaluator {
		var err error
		fb, err = buildEvaluator(deps)
		if err != nil {
			return nil, nil, nil, err
		}
		if fb != nil {
			ps.Evaluator = fb
			log.Info("evaluators ready", "order", fb.Providers())
		}
	}

	dev, err := deps.Registry.CreateCapture(cfg.Capture)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create capture device %q: %w", cfg.Capture.Provider, err)
	}
	ps.Capture = dev

	if name := cfg.Transcription.Name; name != "" {
		p, err := deps.Registry.CreateTranscription(cfg.Transcription.ProviderEntry)
		switch {
		case err == nil:
			ps.Transcriber = p
			log.Info("provider created", "kind", "transcription", "name", name)
		case cfg.Transcription.Required:
			return nil, nil, nil, fmt.Errorf("create transcription provider %q: %w", name, err)
		case errors.Is(err, config.ErrProviderNotRegistered):
			log.Debug("transcription provider not available, recording without captions", "name", name)
		default:
			log.Warn("transcription provider unavailable, recording without captions", "name", name, "err", err)
		}
	}

	store, err := openHistory(deps)
	if err != nil {
		return nil, nil, nil, err
	}
	ps.History = store

	closeFn := func() {
		if err := store.Close(); err != nil {
			log.Warn("close history", "err", err)
		}
	}
	return ps, fb, closeFn, nil
}

// buildEvaluator assembles the evaluator failover chain. Entries whose
// factory fails are skipped with a warning; if none can be built, the joined
// errors are returned. No configured evaluator yields (nil, nil).
func buildEvaluator(deps *Dependencies) (*resilience.EvaluatorFallback, error) {
	ev := deps.Config.Evaluation
	entries := ev.Fallbacks
	if ev.Primary.Name != "" {
		entries = append([]config.ProviderEntry{ev.Primary}, ev.Fallbacks...)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  ev.CircuitBreaker.MaxFailures,
			ResetTimeout: ev.CircuitBreaker.ResetTimeout,
			HalfOpenMax:  ev.CircuitBreaker.HalfOpenMax,
			Logger:       deps.Logger,
		},
	}

	var (
		fb   *resilience.EvaluatorFallback
		errs []error
	)
	for _, entry := range entries {
		e, err := deps.Registry.CreateEvaluator(entry)
		if err != nil {
			deps.Logger.Warn("evaluator unavailable", "name", entry.Name, "err", err)
			errs = append(errs, fmt.Errorf("create evaluator %q: %w", entry.Name, err))
			continue
		}
		if fb == nil {
			fb = resilience.NewEvaluatorFallback(e, entry.Name, fbCfg, deps.Metrics)
		} else {
			fb.AddFallback(entry.Name, e)
		}
	}
	if fb == nil {
		return nil, errors.Join(errs...)
	}
	return fb, nil
}

func openHistory(deps *Dependencies) (history.Store, error) {
	h := deps.Config.History
	store, err := deps.Registry.CreateHistory(h)
	if err != nil {
		return nil, fmt.Errorf("open history (%s): %w", h.Backend, err)
	}
	return store, nil
}

// serveHealth starts the probe endpoints when server.metrics_addr is set.
// The server stops with ctx.
func serveHealth(ctx context.Context, deps *Dependencies, store history.Store, fb *resilience.EvaluatorFallback) error {
	addr := deps.Config.Server.MetricsAddr
	if addr == "" {
		return nil
	}
	checkers := []health.Checker{{
		Name: "history",
		Check: func(ctx context.Context) error {
			_, err := store.List(ctx, history.Filter{Limit: 1})
			return err
		},
	}}
	if fb != nil {
		checkers = append(checkers, health.Checker{Name: "evaluator", Check: fb.Ready})
	}
	srv, err := health.Listen(addr, health.New(checkers...), deps.Metrics, deps.Logger)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	go func() {
		if err := srv.Serve(ctx); err != nil {
			deps.Logger.Warn("health server stopped", "err", err)
		}
	}()
	return nil
}
