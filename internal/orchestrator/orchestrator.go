package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/annel0/world-templates/internal/async"
	"github.com/annel0/world-templates/internal/eventbus"
	"github.com/annel0/world-templates/internal/logging"
	"github.com/annel0/world-templates/internal/observability"
	"github.com/annel0/world-templates/internal/scheduler"
	"github.com/annel0/world-templates/internal/template"
	"github.com/annel0/world-templates/internal/world"
	"github.com/annel0/world-templates/internal/worldfs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EventSource имя источника событий оркестратора
const EventSource = "orchestrator"

// Preflight проверка свободного места перед копированием шаблона
type Preflight struct {
	ReserveBytes uint64 // Сколько должно остаться свободным после копирования
}

// Config зависимости оркестратора. Store, Runtime, Registry, MainThread и Pool обязательны.
type Config struct {
	Store      *template.Store
	Runtime    world.Runtime
	Registry   world.Registry
	MainThread *scheduler.MainThread
	Pool       *scheduler.Pool

	Settle     SettlePolicy         // nil = TickDelay{MainThread, DefaultSettleTicks}
	Bus        eventbus.EventBus    // nil = глобальная шина (если есть)
	Metrics    *Metrics             // nil = без метрик
	Preflight  *Preflight           // nil = без проверки места
	Exclusions worldfs.ExclusionSet // nil = session.lock и uid.dat
	Logger     *logging.Logger      // nil = логгер компонента orchestrator
}

// Orchestrator создаёт шаблоны из миров, загружает миры из шаблонов и удаляет шаблоны.
// Все операции асинхронные: вызывающий получает Future и не блокируется.
// Конфликтующие операции над одним шаблоном вызывающий упорядочивает сам.
//
// Контекст вызывающего несёт только значения (трассировку). Его отмена не прерывает
// начатый конвейер: мир, уже загруженный рантаймом, всё равно будет зарегистрирован.
// Чтобы ограничить ожидание, передавайте контекст с дедлайном в Future.Wait.
type Orchestrator struct {
	store    *template.Store
	runtime  world.Runtime
	registry world.Registry
	main     *scheduler.MainThread
	pool     *scheduler.Pool
	settle   SettlePolicy
	bus      eventbus.EventBus
	metrics  *Metrics
	pre      *Preflight
	excl     worldfs.ExclusionSet
	log      *logging.Logger
	tracer   trace.Tracer

	mu   sync.Mutex
	live []world.Handle
}

// New проверяет конфигурацию и создаёт оркестратор
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("orchestrator: store is required")
	case cfg.Runtime == nil:
		return nil, errors.New("orchestrator: runtime is required")
	case cfg.Registry == nil:
		return nil, errors.New("orchestrator: registry is required")
	case cfg.MainThread == nil:
		return nil, errors.New("orchestrator: main thread is required")
	case cfg.Pool == nil:
		return nil, errors.New("orchestrator: worker pool is required")
	}

	o := &Orchestrator{
		store:    cfg.Store,
		runtime:  cfg.Runtime,
		registry: cfg.Registry,
		main:     cfg.MainThread,
		pool:     cfg.Pool,
		settle:   cfg.Settle,
		bus:      cfg.Bus,
		metrics:  cfg.Metrics,
		pre:      cfg.Preflight,
		excl:     cfg.Exclusions,
		log:      cfg.Logger,
		tracer:   observability.Tracer(),
	}
	if o.settle == nil {
		o.settle = TickDelay{Thread: cfg.MainThread, Ticks: DefaultSettleTicks}
	}
	if o.excl == nil {
		o.excl = worldfs.DefaultExclusions()
	}
	if o.log == nil {
		o.log = logging.GetOrchestratorLogger()
	}
	return o, nil
}

// CreateTemplateFromWorld копирует каталог загруженного мира в шаблон templateName.
// Пустой templateName означает шаблон с именем мира.
//
// Неизвестный мир завершает Future ошибкой ErrSourceNotFound без записи на диск.
// Неудачное копирование не считается ошибкой: результат false, nil.
func (o *Orchestrator) CreateTemplateFromWorld(ctx context.Context, worldName, templateName string) *async.Future[bool] {
	if templateName == "" {
		templateName = worldName
	}
	ctx, span := o.tracer.Start(ctx, "template.create", trace.WithAttributes(
		attribute.String("world", worldName),
		attribute.String("template", templateName),
	))
	ctx = context.WithoutCancel(ctx)

	fut := async.New[bool]()
	finish := func(ok bool, err error) {
		o.metrics.operation("create", err)
		o.emit(ctx, eventbus.TemplateCreated, eventbus.Lifecycle{
			Template: templateName,
			World:    worldName,
			Success:  ok,
			Error:    errString(err),
		})
		endSpan(span, err)
		if err != nil {
			fut.Fail(err)
			return
		}
		fut.Complete(ok)
	}

	if _, found := o.runtime.FindWorld(worldName); !found {
		o.log.Warn("⚠️ Мир %q не загружен, шаблон %q не создан", worldName, templateName)
		finish(false, fmt.Errorf("%w: %q", ErrSourceNotFound, worldName))
		return fut
	}

	target, err := o.store.Resolve(templateName)
	if err != nil {
		finish(false, err)
		return fut
	}
	source := filepath.Join(o.runtime.WorldContainer(), worldName)

	o.submit(ctx, func() {
		ok, _ := o.copyTree(ctx, source, target)
		if ok {
			o.log.Info("📦 Шаблон %q создан из мира %q", templateName, worldName)
		}
		finish(ok, nil)
	}, func(err error) {
		finish(false, err)
	})
	return fut
}

// LoadTemplate копирует шаблон в каталог нового мира, загружает мир на главном потоке,
// ждёт по SettlePolicy, регистрирует мир в реестре и добавляет его в список живых миров.
// Этапы выполняются строго последовательно; сбой этапа останавливает конвейер.
// Если живой мир с таким именем уже есть, его запись заменяется новой.
func (o *Orchestrator) LoadTemplate(ctx context.Context, templateName, newWorldName string) *async.Future[world.Handle] {
	ctx, span := o.tracer.Start(ctx, "template.load", trace.WithAttributes(
		attribute.String("template", templateName),
		attribute.String("world", newWorldName),
	))
	ctx = context.WithoutCancel(ctx)

	fut := async.New[world.Handle]()
	finish := func(h world.Handle, err error) {
		o.metrics.operation("load", err)
		lc := eventbus.Lifecycle{
			Template: templateName,
			World:    newWorldName,
			Path:     h.Dir,
			Success:  err == nil,
			Error:    errString(err),
		}
		if err == nil {
			lc.WorldID = h.ID.String()
		}
		o.emit(ctx, eventbus.WorldLoaded, lc)
		endSpan(span, err)
		if err != nil {
			o.log.Error("❌ Загрузка шаблона %q в мир %q: %v", templateName, newWorldName, err)
			fut.Fail(err)
			return
		}
		fut.Complete(h)
	}

	source, err := o.store.Resolve(templateName)
	if err != nil {
		finish(world.Handle{}, err)
		return fut
	}
	exists, err := o.store.Exists(templateName)
	if err != nil {
		finish(world.Handle{}, err)
		return fut
	}
	if !exists {
		finish(world.Handle{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, templateName))
		return fut
	}
	if err := template.ValidateName(newWorldName); err != nil {
		finish(world.Handle{}, fmt.Errorf("world name: %w", err))
		return fut
	}
	target := filepath.Join(o.runtime.WorldContainer(), newWorldName)

	o.submit(ctx, func() {
		if err := o.preflight(ctx, source, target); err != nil {
			finish(world.Handle{}, fmt.Errorf("%w: %w", ErrDuplicationFailed, err))
			return
		}
		ok, err := o.copyTree(ctx, source, target)
		if err != nil {
			finish(world.Handle{}, fmt.Errorf("%w: %s -> %s: %w", ErrDuplicationFailed, source, target, err))
			return
		}
		if !ok {
			finish(world.Handle{}, fmt.Errorf("%w: %s -> %s", ErrDuplicationFailed, source, target))
			return
		}
		o.instantiate(ctx, newWorldName, finish)
	}, func(err error) {
		finish(world.Handle{}, fmt.Errorf("%w: %w", ErrDuplicationFailed, err))
	})
	return fut
}

// instantiate ставит загрузку мира на главный поток и продолжает конвейер оттуда.
// Задание, отброшенное остановкой главного потока, завершает конвейер ошибкой.
func (o *Orchestrator) instantiate(ctx context.Context, name string, finish func(world.Handle, error)) {
	dropped := func(err error) {
		finish(world.Handle{}, fmt.Errorf("%w: %q: %w", ErrInstantiation, name, err))
	}
	err := o.main.RunTaskOrDrop(func() {
		start := time.Now()
		h, err := o.callRuntime(ctx, name)
		o.metrics.stage("instantiate", start)
		if err != nil {
			finish(world.Handle{}, fmt.Errorf("%w: %q: %w", ErrInstantiation, name, err))
			return
		}
		if h == nil {
			finish(world.Handle{}, fmt.Errorf("%w: %q", ErrInitializationFailed, name))
			return
		}

		handle := *h
		settled := time.Now()
		abort := func(err error) {
			finish(world.Handle{}, fmt.Errorf("%w: settle: %w", ErrRegistrationFailed, err))
		}
		err = o.settle.AfterInstantiate(handle, func() {
			o.metrics.stage("settle", settled)
			o.register(ctx, handle, finish)
		}, abort)
		if err != nil {
			abort(err)
		}
	}, dropped)
	if err != nil {
		finish(world.Handle{}, fmt.Errorf("%w: %w", ErrInstantiation, err))
	}
}

// callRuntime вызывает рантайм, превращая панику в ошибку
func (o *Orchestrator) callRuntime(ctx context.Context, name string) (h *world.Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.runtime.InstantiateWorld(ctx, name)
}

func (o *Orchestrator) register(ctx context.Context, h world.Handle, finish func(world.Handle, error)) {
	start := time.Now()
	err := o.registry.Register(ctx, h, world.RegisterOptions{})
	o.metrics.stage("register", start)
	if err != nil {
		finish(world.Handle{}, fmt.Errorf("%w: %q: %w", ErrRegistrationFailed, h.Name, err))
		return
	}

	o.mu.Lock()
	replaced := false
	for i := range o.live {
		if o.live[i].Name == h.Name {
			o.live[i] = h
			replaced = true
			break
		}
	}
	if !replaced {
		o.live = append(o.live, h)
	}
	n := len(o.live)
	o.mu.Unlock()
	o.metrics.setLive(n)

	if replaced {
		o.log.Warn("⚠️ Мир %q уже был в списке живых, запись заменена", h.Name)
	}
	o.log.Info("🌍 Мир %q готов (id=%s)", h.Name, h.ID)
	finish(h, nil)
}

// DeleteTemplate удаляет каталог шаблона. Существование заранее не проверяется.
// Результат true, nil либо false и ErrDeletionFailed с причиной.
func (o *Orchestrator) DeleteTemplate(ctx context.Context, templateName string) *async.Future[bool] {
	ctx, span := o.tracer.Start(ctx, "template.delete", trace.WithAttributes(
		attribute.String("template", templateName),
	))
	ctx = context.WithoutCancel(ctx)

	fut := async.New[bool]()
	finish := func(err error) {
		o.metrics.operation("delete", err)
		o.emit(ctx, eventbus.TemplateDeleted, eventbus.Lifecycle{
			Template: templateName,
			Success:  err == nil,
			Error:    errString(err),
		})
		endSpan(span, err)
		if err != nil {
			fut.Fail(err)
			return
		}
		fut.Complete(true)
	}

	target, err := o.store.Resolve(templateName)
	if err != nil {
		finish(fmt.Errorf("%w: %w", ErrDeletionFailed, err))
		return fut
	}

	o.submit(ctx, func() {
		start := time.Now()
		ok, err := worldfs.DeleteTree(ctx, target, worldfs.Options{Logger: o.log})
		o.metrics.stage("delete", start)
		switch {
		case err != nil:
			finish(fmt.Errorf("%w: %q: %w", ErrDeletionFailed, templateName, err))
		case !ok:
			finish(fmt.Errorf("%w: %q", ErrDeletionFailed, templateName))
		default:
			o.log.Info("🗑️ Шаблон %q удалён", templateName)
			finish(nil)
		}
	}, func(err error) {
		finish(fmt.Errorf("%w: %w", ErrDeletionFailed, err))
	})
	return fut
}

// LiveWorlds возвращает копию списка миров, загруженных из шаблонов
func (o *Orchestrator) LiveWorlds() []world.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]world.Handle, len(o.live))
	copy(out, o.live)
	return out
}

// ForgetWorld убирает мир из списка живых миров. Рантайм и реестр не затрагиваются.
func (o *Orchestrator) ForgetWorld(name string) bool {
	o.mu.Lock()
	idx := -1
	for i, h := range o.live {
		if h.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		o.mu.Unlock()
		return false
	}
	h := o.live[idx]
	o.live = append(o.live[:idx], o.live[idx+1:]...)
	n := len(o.live)
	o.mu.Unlock()

	o.metrics.setLive(n)
	o.emit(context.Background(), eventbus.WorldForgotten, eventbus.Lifecycle{
		World:   name,
		WorldID: h.ID.String(),
		Path:    h.Dir,
		Success: true,
	})
	return true
}

// submit отдаёт блокирующую работу пулу, не задерживая вызывающего.
// onErr вызывается, если пул не принял задачу.
func (o *Orchestrator) submit(ctx context.Context, fn func(), onErr func(error)) {
	go func() {
		if err := o.pool.Submit(ctx, fn); err != nil {
			onErr(err)
		}
	}()
}

func (o *Orchestrator) copyTree(ctx context.Context, source, target string) (bool, error) {
	var stats worldfs.CopyStats
	start := time.Now()
	ok, err := worldfs.CopyTree(ctx, source, target, worldfs.Options{
		Exclusions: o.excl,
		Stats:      &stats,
	})
	o.metrics.stage("copy", start)
	o.metrics.addCopied(stats.Bytes)
	o.log.Debug("Копирование %s -> %s: файлов %d, пропущено %d, %d байт", source, target, stats.Files, stats.Skipped, stats.Bytes)
	return ok, err
}

func (o *Orchestrator) preflight(ctx context.Context, source, target string) error {
	if o.pre == nil {
		return nil
	}
	size, err := worldfs.TreeSize(ctx, source, o.excl)
	if err != nil {
		return err
	}
	return worldfs.CheckFreeSpace(target, uint64(size), o.pre.ReserveBytes)
}

func (o *Orchestrator) emit(ctx context.Context, eventType string, lc eventbus.Lifecycle) {
	if err := eventbus.Emit(ctx, o.bus, EventSource, eventType, lc); err != nil {
		o.log.Warn("⚠️ Событие %s не опубликовано: %v", eventType, err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
