package eventbus

import (
	"context"
	"sync"
)

var (
	globalMu  sync.RWMutex
	globalBus EventBus
)

// Init устанавливает глобальную шину. nil отключает публикацию.
func Init(bus EventBus) {
	globalMu.Lock()
	globalBus = bus
	globalMu.Unlock()
}

// Default возвращает глобальную шину или nil
func Default() EventBus {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalBus
}

// Publish отправляет событие в глобальную шину, если она инициализирована.
func Publish(ctx context.Context, ev *Envelope) error {
	bus := Default()
	if bus == nil {
		return nil
	}
	return bus.Publish(ctx, ev)
}

// Emit упаковывает событие жизненного цикла и публикует его в bus.
// При bus == nil используется глобальная шина.
func Emit(ctx context.Context, bus EventBus, source, eventType string, lc Lifecycle) error {
	if bus == nil {
		bus = Default()
	}
	if bus == nil {
		return nil
	}
	ev, err := NewEnvelope(source, eventType, lc)
	if err != nil {
		return err
	}
	return bus.Publish(ctx, ev)
}
