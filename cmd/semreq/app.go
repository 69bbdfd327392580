package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/semreq/api"
	"github.com/c360studio/semreq/config"
	"github.com/c360studio/semreq/corpus"
	"github.com/c360studio/semreq/engine"
	"github.com/c360studio/semreq/events"
	"github.com/c360studio/semreq/llm"
	_ "github.com/c360studio/semreq/llm/providers"
	"github.com/c360studio/semreq/quality"
)

// App wires the engine and its collaborators from a Config.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	loader   *corpus.Loader
	engine   *engine.Engine
	registry *prometheus.Registry

	closers []events.Closer
}

// NewApp loads the corpus and builds the engine. Oracle and event sinks are
// connected here; Close releases them.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	loader, err := corpus.NewLoader(cfg.Corpus.Dir, cfg.Corpus.Patterns, logger)
	if err != nil {
		return nil, fmt.Errorf("create corpus loader: %w", err)
	}
	a.loader = loader

	initial, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}

	policy, err := quality.NewPolicy(cfg.Quality.Rules)
	if err != nil {
		return nil, fmt.Errorf("compile quality rules: %w", err)
	}

	oracle, err := a.buildOracle(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.engine = engine.New(initial,
		engine.WithLogger(logger),
		engine.WithCorpusLoader(loader),
		engine.WithPublisher(publisher),
		engine.WithOracle(oracle),
		engine.WithPolicy(policy),
		engine.WithDimensions(cfg.Quality.Dimensions),
		engine.WithSuggestTimeout(cfg.Quality.SuggestTimeout),
		engine.WithWorkers(cfg.Quality.Workers),
		engine.WithApprovers(cfg.Governance.LexiconApprover, cfg.Governance.ModelApprover),
		engine.WithRejectReason(cfg.Governance.RejectReason),
		engine.WithMetrics(engine.NewMetrics(a.registry)),
	)
	return a, nil
}

// Engine returns the wired engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

func (a *App) buildOracle(ctx context.Context) (quality.Oracle, error) {
	oc := a.cfg.Oracle

	var oracle quality.Oracle
	switch oc.Provider {
	case config.OracleHTTP:
		oracle = a.httpOracle(oc.API, oc.Endpoint, oc.Model, oc.APIKey())
		if len(oc.Fallbacks) > 0 {
			chain := []quality.Oracle{oracle}
			for _, fb := range oc.Fallbacks {
				chain = append(chain, a.httpOracle(fb.API, fb.Endpoint, fb.Model, fb.APIKey()))
			}
			oracle = llm.NewFallbackOracle(chain, oc.Health, a.logger)
		}
	case config.OracleGemini:
		g, err := llm.NewGeminiOracle(ctx, oc.APIKey(), oc.Model)
		if err != nil {
			return nil, fmt.Errorf("create gemini oracle: %w", err)
		}
		a.closers = append(a.closers, g)
		oracle = g
	default:
		return quality.NewTableOracle(), nil
	}

	if oc.RateLimit > 0 {
		oracle = llm.NewRateLimited(oracle, oc.RateLimit, oc.Burst)
	}
	a.logger.Info("Suggestion oracle configured", "provider", oc.Provider, "oracle", oracle.Name())
	return oracle, nil
}

func (a *App) httpOracle(api, endpoint, model, apiKey string) quality.Oracle {
	oc := a.cfg.Oracle
	temperature := oc.Temperature
	client := llm.NewClient(llm.Endpoint{
		Provider:    api,
		URL:         endpoint,
		Model:       model,
		APIKey:      apiKey,
		Temperature: &temperature,
		MaxTokens:   oc.MaxTokens,
	}, llm.WithRetryConfig(oc.Retry), llm.WithLogger(a.logger))
	return llm.NewOracle(client, "llm:"+model)
}

func (a *App) buildPublisher(ctx context.Context) (events.Publisher, error) {
	ec := a.cfg.Events

	var publishers []events.Publisher
	for _, sink := range ec.Sinks {
		switch sink {
		case config.SinkLog:
			publishers = append(publishers, events.NewLogPublisher(a.logger))
		case config.SinkNATS:
			p, err := events.DialNATS(ec.NATSURL, ec.SubjectPrefix)
			if err != nil {
				return nil, fmt.Errorf("connect nats sink: %w", err)
			}
			a.closers = append(a.closers, p)
			publishers = append(publishers, p)
		case config.SinkPubSub:
			p, err := events.NewPubSubPublisher(ctx, ec.PubSubProject, ec.PubSubTopic)
			if err != nil {
				return nil, fmt.Errorf("create pubsub sink: %w", err)
			}
			a.closers = append(a.closers, p)
			publishers = append(publishers, p)
		case config.SinkSQLite:
			j, err := events.OpenJournal(ctx, a.journalPath())
			if err != nil {
				return nil, fmt.Errorf("open journal: %w", err)
			}
			a.closers = append(a.closers, j)
			publishers = append(publishers, j)
		default:
			return nil, fmt.Errorf("unknown event sink %q", sink)
		}
		a.logger.Debug("Event sink configured", "sink", sink)
	}
	return events.NewMultiPublisher(publishers...), nil
}

// journalPath resolves a relative journal path against the corpus directory.
func (a *App) journalPath() string {
	return resolvePath(a.cfg.Corpus.Dir, a.cfg.Events.JournalPath)
}

func resolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}

// Handler returns the HTTP surface: the JSON API, metrics, and a health check.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	api.NewHandler(a.engine, a.logger).RegisterHTTPHandlers(a.cfg.Server.APIPrefix, mux)
	mux.Handle("GET "+a.cfg.Server.MetricsPath, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Serve runs the HTTP server, and the corpus watcher when enabled, until ctx
// is cancelled.
func (a *App) Serve(ctx context.Context) error {
	if a.cfg.Corpus.Watch {
		w, err := corpus.NewWatcher(a.loader.BaseDir(), a.cfg.Corpus.Debounce, a.logger)
		if err != nil {
			return fmt.Errorf("create corpus watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start corpus watcher: %w", err)
		}
		defer w.Stop()
		go w.Run(ctx, a.engine.ReloadCorpus)
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening",
			"addr", a.cfg.Server.Addr,
			"api", a.cfg.Server.APIPrefix,
			"metrics", a.cfg.Server.MetricsPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// Close releases the oracle and event sink connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// logLevel parses the --log-level flag.
func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(level)}))
}
