package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/annel0/world-templates/internal/auth"
	"github.com/annel0/world-templates/internal/config"
	"github.com/annel0/world-templates/internal/eventbus"
	"github.com/annel0/world-templates/internal/logging"
	"github.com/annel0/world-templates/internal/observability"
	"github.com/annel0/world-templates/internal/orchestrator"
	"github.com/annel0/world-templates/internal/scheduler"
	"github.com/annel0/world-templates/internal/storage"
	"github.com/annel0/world-templates/internal/template"
	"github.com/annel0/world-templates/internal/world"
	"github.com/annel0/world-templates/internal/worldfs"
)

// app собранные компоненты сервиса
type app struct {
	cfg      *config.Config
	store    *template.Store
	runtime  *world.DirRuntime
	registry storage.WorldRegistry
	main     *scheduler.MainThread
	pool     *scheduler.Pool
	bus      eventbus.EventBus
	exporter *eventbus.MetricsExporter
	metrics  *prometheus.Registry
	orch     *orchestrator.Orchestrator
	excl     worldfs.ExclusionSet

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		store:   template.NewStore(cfg.Templates.GetTemplateRoot()),
		metrics: prometheus.NewRegistry(),
		excl:    worldfs.NewExclusionSet(cfg.Templates.Exclude...),
	}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	// === НАБЛЮДАЕМОСТЬ ===
	shutdown, err := observability.InitTelemetry(ctx, cfg.Telemetry.GetServiceName(), cfg.Telemetry.Enabled)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации OpenTelemetry: %w", err)
	}
	a.onClose(func() {
		if err := shutdown(context.Background()); err != nil {
			logging.Warn("⚠️ Ошибка остановки OpenTelemetry: %v", err)
		}
	})
	a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// === ШИНА СОБЫТИЙ ===
	a.bus, err = eventbus.Open(cfg.EventBus.GetURL(), cfg.EventBus.Stream, cfg.EventBus.GetRetention())
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к шине событий: %w", err)
	}
	a.onClose(func() { a.bus.Close() })
	eventbus.Init(a.bus)
	a.onClose(func() { eventbus.Init(nil) })

	if _, err := eventbus.StartLoggingListener(ctx, a.bus); err != nil {
		return nil, err
	}
	a.exporter, err = eventbus.NewMetricsExporter(a.bus, a.metrics)
	if err != nil {
		return nil, err
	}
	a.exporter.Start()
	a.onClose(a.exporter.Stop)

	// === РЕЕСТР И РАНТАЙМ ===
	a.registry, err = storage.OpenRegistry(storage.Options{
		Backend: cfg.Registry.GetBackend(),
		Path:    cfg.Registry.GetPath(),
		DSN:     cfg.Registry.GetDSN(),
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия реестра миров: %w", err)
	}
	a.onClose(func() { a.registry.Close() })

	a.runtime, err = world.NewDirRuntime(cfg.Worlds.GetContainer())
	if err != nil {
		return nil, err
	}
	if _, err := a.runtime.Discover(ctx); err != nil {
		return nil, fmt.Errorf("ошибка обнаружения миров: %w", err)
	}

	// === ПЛАНИРОВЩИК ===
	a.main = scheduler.NewMainThread(cfg.Scheduler.GetTickInterval())
	a.main.Start()
	a.onClose(a.main.Stop)

	a.pool = scheduler.NewPool(cfg.Scheduler.GetWorkers())
	a.onClose(a.pool.Stop)

	metrics, err := orchestrator.NewMetrics(a.metrics)
	if err != nil {
		return nil, err
	}

	var preflight *orchestrator.Preflight
	if reserve := cfg.Preflight.GetMinFreeBytes(); reserve > 0 {
		preflight = &orchestrator.Preflight{ReserveBytes: reserve}
	}

	a.orch, err = orchestrator.New(orchestrator.Config{
		Store:      a.store,
		Runtime:    a.runtime,
		Registry:   a.registry,
		MainThread: a.main,
		Pool:       a.pool,
		Settle:     orchestrator.TickDelay{Thread: a.main, Ticks: uint64(cfg.Scheduler.GetSettleTicks())},
		Bus:        a.bus,
		Metrics:    metrics,
		Preflight:  preflight,
		Exclusions: a.excl,
	})
	if err != nil {
		return nil, err
	}

	ready = true
	logging.Debug("Компоненты инициализированы: шаблоны=%s, миры=%s, реестр=%s, тик=%s",
		a.store.Root(), a.runtime.WorldContainer(), cfg.Registry.GetBackend(), a.main.Interval())
	return a, nil
}

var errNoSecret = errors.New("api.jwt_secret не задан")

// tokenManager создаёт менеджер токенов из api.jwt_secret
func (a *app) tokenManager() (*auth.TokenManager, error) {
	secret := a.cfg.API.GetJWTSecret()
	if secret == "" {
		return nil, errNoSecret
	}
	return auth.NewTokenManagerFromBase64(secret, a.cfg.API.GetTokenTTL())
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close останавливает компоненты в обратном порядке
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
