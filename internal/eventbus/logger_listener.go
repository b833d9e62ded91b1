package eventbus

import (
	"context"

	"github.com/annel0/world-templates/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог компонента eventbus.
// Функция неблокирующая.
func StartLoggingListener(ctx context.Context, bus EventBus) (Subscription, error) {
	log := logging.GetComponentLogger(logging.ComponentEventBus)

	sub, err := bus.Subscribe(ctx, Filter{}, func(ctx context.Context, ev *Envelope) {
		lc, err := ev.DecodeLifecycle()
		if err != nil {
			log.Debug("%s %s src=%s size=%dB", ev.ID, ev.EventType, ev.Source, len(ev.Payload))
			return
		}
		if lc.Success {
			log.Info("📣 %s template=%q world=%q", ev.EventType, lc.Template, lc.World)
		} else {
			log.Warn("📣 %s template=%q world=%q ошибка: %s", ev.EventType, lc.Template, lc.World, lc.Error)
		}
	})
	if err != nil {
		return nil, err
	}
	log.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub, nil
}
