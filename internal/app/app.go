// Package app wires all Mentravox subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// Providers (LLM, fallback, embeddings) are built in main.go and passed in,
// so tests can inject mocks without touching the network.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/mentravox/mentravox/internal/agent"
	"github.com/mentravox/mentravox/internal/config"
	"github.com/mentravox/mentravox/internal/events"
	"github.com/mentravox/mentravox/internal/geocode"
	"github.com/mentravox/mentravox/internal/health"
	"github.com/mentravox/mentravox/internal/history"
	"github.com/mentravox/mentravox/internal/httpapi"
	"github.com/mentravox/mentravox/internal/observe"
	"github.com/mentravox/mentravox/internal/resilience"
	"github.com/mentravox/mentravox/internal/session"
	"github.com/mentravox/mentravox/internal/settings"
	"github.com/mentravox/mentravox/internal/storage/postgres"
	"github.com/mentravox/mentravox/internal/user"
	"github.com/mentravox/mentravox/internal/wake"
	"github.com/mentravox/mentravox/pkg/glasses/bridge"
	"github.com/mentravox/mentravox/pkg/provider/embeddings"
	"github.com/mentravox/mentravox/pkg/provider/llm"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go from the config.
type Providers struct {
	LLM        llm.Provider
	Fallback   llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	store    *postgres.Store // nil without a configured DSN
	metrics  *observe.Metrics
	bus      *events.Bus
	adapter  *agent.Adapter
	registry *session.Registry
	httpSrv  *http.Server
	handler  http.Handler

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. New connects to PostgreSQL when a DSN is configured;
// everything else is in-process.
func New(ctx context.Context, cfg *config.Config, providers *Providers) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, fmt.Errorf("app: providers.llm is required")
	}

	a := &App{cfg: cfg}

	if err := a.initMetrics(ctx); err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}

	a.bus = events.NewBus(a.metrics)

	settingsStore, historyStore, recall, err := a.initStorage(ctx, providers.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	a.adapter = a.buildAgent(providers)

	var geocoder geocode.Geocoder
	if !cfg.Geocode.Disabled {
		geocoder = geocode.NewClient(cfg.Geocode.BaseURL)
	}

	var wakeOpts []wake.Option
	if cfg.Wake.PhoneticTolerance > 0 {
		wakeOpts = append(wakeOpts, wake.WithPhoneticTolerance(cfg.Wake.PhoneticTolerance))
	}
	matcher := wake.New(cfg.Wake.Phrases, wakeOpts...)

	userCfg := user.Config{
		SilenceWindow:      cfg.Wake.SilenceWindow.Std(),
		DisplayDuration:    cfg.Session.DisplayDuration.Std(),
		ProcessingSoundURL: cfg.Sounds.ProcessingURL,
	}
	deps := user.Deps{
		Bus:      a.bus,
		Matcher:  matcher,
		Geocoder: geocoder,
		Settings: settingsStore,
		History:  historyStore,
		Recall:   recall,
		Agent:    a.adapter,
		Metrics:  a.metrics,
	}
	factory := func(userID string) *user.User {
		return user.New(userID, userCfg, deps)
	}

	var regOpts []session.Option
	if gp := cfg.Session.GracePeriod.Std(); gp > 0 {
		regOpts = append(regOpts, session.WithGracePeriod(gp))
	}
	a.registry = session.NewRegistry(factory, a.bus, regOpts...)

	lifecycle := session.NewLifecycle(a.registry, a.bus, a.metrics)
	lifecycle.WelcomeSoundURL = cfg.Sounds.WelcomeURL

	bridgeHandler := bridge.NewHandler(cfg.Server.CookieSecret, bridge.Hooks{
		OnConnect:    lifecycle.OnSessionStart,
		OnDisconnect: lifecycle.OnSessionStop,
	})

	srv := httpapi.NewServer(httpapi.Config{
		Registry:          a.registry,
		Lifecycle:         lifecycle,
		Bus:               a.bus,
		Settings:          settingsStore,
		Health:            a.buildHealth(),
		Metrics:           a.metrics,
		Glasses:           bridgeHandler,
		HeartbeatInterval: cfg.SSE.HeartbeatInterval.Std(),
	})
	a.handler = srv.Router()

	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Handler exposes the root HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler { return a.handler }

// initMetrics sets up the OTel meter provider with its Prometheus exporter
// and the instrument set used across the subsystems.
func (a *App) initMetrics(ctx context.Context) error {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "mentravox",
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdown)

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// initStorage connects to PostgreSQL when a DSN is configured, falling back
// to in-memory settings and no durable history otherwise. The semantic
// recall index is built only when both the turn index and an embeddings
// provider exist.
func (a *App) initStorage(ctx context.Context, embedder embeddings.Provider) (settings.Store, history.Store, *history.Recall, error) {
	dsn := a.cfg.Database.PostgresDSN
	if dsn == "" {
		slog.Info("no database configured, settings are in-memory and history is not persisted")
		return settings.NewMemory(), nil, nil, nil
	}

	store, err := postgres.New(ctx, dsn, a.cfg.Database.EmbeddingDimensions)
	if err != nil {
		return nil, nil, nil, err
	}
	a.store = store
	a.closers = append(a.closers, func(context.Context) error {
		store.Close()
		return nil
	})

	var recall *history.Recall
	if idx := store.TurnIndex(); idx != nil && embedder != nil {
		recall = history.NewRecall(embedder, idx)
		slog.Info("semantic recall enabled", "dimensions", a.cfg.Database.EmbeddingDimensions)
	}
	return store.Settings(), store.History(), recall, nil
}

// buildAgent assembles the resilience-wrapped LLM adapter from the provider
// slots and the agent tuning block.
func (a *App) buildAgent(providers *Providers) *agent.Adapter {
	breaker := resilience.BreakerConfig{Name: a.cfg.Providers.LLM.Name}

	var opts []agent.Option
	if providers.Fallback != nil {
		opts = append(opts, agent.WithFallback(providers.Fallback))
	}
	if d := a.cfg.Agent.Deadline.Std(); d > 0 {
		opts = append(opts, agent.WithDeadline(d))
	}
	if t := a.cfg.Agent.Temperature; t > 0 {
		opts = append(opts, agent.WithTemperature(t))
	}
	if n := a.cfg.Agent.MaxTokens; n > 0 {
		opts = append(opts, agent.WithMaxTokens(n))
	}
	return agent.New(providers.LLM, breaker, opts...)
}

// buildHealth assembles the health handler. The database check only exists
// when a store is connected; the agent check fails once every provider in
// the chain has an open breaker.
func (a *App) buildHealth() *health.Handler {
	var checkers []health.Checker
	if a.store != nil {
		checkers = append(checkers, health.Checker{Name: "database", Check: a.store.Ping})
	}
	checkers = append(checkers, health.Checker{Name: "agent", Check: a.agentCheck})

	h := health.New(checkers...)
	h.Details = a.healthDetails
	return h
}

// agentCheck reports failure only when no provider in the chain can accept
// calls. A single open breaker with a healthy fallback is still ready.
func (a *App) agentCheck(context.Context) error {
	states := a.adapter.States()
	for _, st := range states {
		if st != resilience.StateOpen {
			return nil
		}
	}
	return fmt.Errorf("all %d provider breakers are open", len(states))
}

func (a *App) healthDetails() map[string]any {
	breakers := make(map[string]string)
	for name, st := range a.adapter.States() {
		breakers[name] = st.String()
	}
	return map[string]any{
		"activeUsers": a.registry.Len(),
		"breakers":    breakers,
	}
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("listening with TLS", "addr", a.httpSrv.Addr)
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("listening", "addr", a.httpSrv.Addr)
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(drainCtx)
	})

	return g.Wait()
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
