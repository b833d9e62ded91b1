package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Типы событий жизненного цикла шаблонов и миров
const (
	TemplateCreated = "template.created"
	TemplateDeleted = "template.deleted"
	WorldLoaded     = "world.loaded"
	WorldForgotten  = "world.forgotten"
)

// Envelope описывает универсальный контейнер события.
type Envelope struct {
	ID            string            `json:"id"`                       // UUID события
	Timestamp     time.Time         `json:"timestamp"`                // Время создания события (UTC)
	Source        string            `json:"source"`                   // Имя сервиса-источника
	EventType     string            `json:"event_type"`               // template.created, world.loaded…
	Version       int               `json:"version"`                  // Версия схемы полезной нагрузки
	CorrelationID string            `json:"correlation_id,omitempty"` // Для связывания цепочек
	Priority      int               `json:"priority"`                 // 0=Low … 9=Critical (для backpressure)
	Payload       []byte            `json:"payload"`                  // JSON полезной нагрузки
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Lifecycle полезная нагрузка событий жизненного цикла
type Lifecycle struct {
	Template string `json:"template,omitempty"`
	World    string `json:"world,omitempty"`
	WorldID  string `json:"world_id,omitempty"`
	Path     string `json:"path,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// NewEnvelope упаковывает payload в JSON-конверт с новым UUID
func NewEnvelope(source, eventType string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   1,
		Priority:  5,
		Payload:   data,
	}, nil
}

// DecodeLifecycle разбирает полезную нагрузку события жизненного цикла
func (e *Envelope) DecodeLifecycle() (Lifecycle, error) {
	var lc Lifecycle
	err := json.Unmarshal(e.Payload, &lc)
	return lc, err
}

// Filter позволяет подписаться только на нужные события.
type Filter struct {
	Types   []string // Если пусто, все типы.
	Sources []string // Если пусто, все источники.
}

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события.
type Handler func(ctx context.Context, ev *Envelope)

// Stats агрегированные метрики шины.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus абстракция шины событий: in-memory или NATS JetStream.
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

//================ In-Memory implementation =================//

// ErrClosed шина закрыта
var ErrClosed = errors.New("eventbus: шина закрыта")

type memoryBus struct {
	subMu       sync.RWMutex
	subscribers map[int]subscriber
	nextID      int

	// sendMu защищает buffer от закрытия во время отправки
	sendMu sync.RWMutex
	closed bool
	buffer chan *Envelope

	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64

	wg   sync.WaitGroup
	done chan struct{}
}

type subscriber struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMemoryBus создаёт in-memory шину с указанным буфером.
func NewMemoryBus(capacity int) EventBus {
	if capacity <= 0 {
		capacity = 256
	}
	mb := &memoryBus{
		subscribers: make(map[int]subscriber),
		buffer:      make(chan *Envelope, capacity),
		done:        make(chan struct{}),
	}
	go mb.dispatchLoop()
	return mb
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	mb.sendMu.RLock()
	defer mb.sendMu.RUnlock()

	if mb.closed {
		return ErrClosed
	}

	select {
	case mb.buffer <- ev:
		mb.published.Add(1)
		return nil
	default:
	}

	// Буфер заполнен: низкий приоритет (<5) отбрасываем
	if ev.Priority < 5 {
		mb.dropped.Add(1)
		return nil
	}
	select {
	case mb.buffer <- ev:
		mb.published.Add(1)
		return nil
	case <-ctx.Done():
		mb.dropped.Add(1)
		return ctx.Err()
	}
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	mb.sendMu.RLock()
	closed := mb.closed
	mb.sendMu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	mb.subMu.Lock()
	defer mb.subMu.Unlock()

	id := mb.nextID
	mb.nextID++
	cctx, cancel := context.WithCancel(ctx)
	mb.subscribers[id] = subscriber{filter: f, handler: h, ctx: cctx, cancel: cancel}

	return &memSub{bus: mb, id: id}, nil
}

func (mb *memoryBus) Metrics() Stats {
	return Stats{
		Published: mb.published.Load(),
		Consumed:  mb.consumed.Load(),
		Dropped:   mb.dropped.Load(),
		InFlight:  len(mb.buffer),
	}
}

// Close доставляет оставшиеся события и останавливает рассылку
func (mb *memoryBus) Close() error {
	mb.sendMu.Lock()
	if mb.closed {
		mb.sendMu.Unlock()
		return nil
	}
	mb.closed = true
	close(mb.buffer)
	mb.sendMu.Unlock()

	<-mb.done
	mb.wg.Wait()

	mb.subMu.Lock()
	for id, sub := range mb.subscribers {
		sub.cancel()
		delete(mb.subscribers, id)
	}
	mb.subMu.Unlock()
	return nil
}

// dispatchLoop рассылает события подписчикам.
func (mb *memoryBus) dispatchLoop() {
	defer close(mb.done)

	for ev := range mb.buffer {
		ev := ev
		mb.subMu.RLock()
		subs := make([]subscriber, 0, len(mb.subscribers))
		for _, sub := range mb.subscribers {
			if matchFilter(ev, sub.filter) {
				subs = append(subs, sub)
			}
		}
		mb.subMu.RUnlock()

		for _, sub := range subs {
			mb.wg.Add(1)
			go func(s subscriber) {
				defer mb.wg.Done()
				if s.ctx.Err() != nil {
					return
				}
				s.handler(s.ctx, ev)
				mb.consumed.Add(1)
			}(sub)
		}
	}
}

func matchFilter(ev *Envelope, f Filter) bool {
	match := func(val string, arr []string) bool {
		if len(arr) == 0 {
			return true
		}
		for _, v := range arr {
			if v == val {
				return true
			}
		}
		return false
	}
	return match(ev.EventType, f.Types) && match(ev.Source, f.Sources)
}

type memSub struct {
	bus *memoryBus
	id  int
}

func (s *memSub) Unsubscribe() {
	s.bus.subMu.Lock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		sub.cancel()
		delete(s.bus.subscribers, s.id)
	}
	s.bus.subMu.Unlock()
}
