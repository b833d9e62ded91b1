package orchestrator

import (
	"errors"

	"github.com/annel0/world-templates/internal/scheduler"
	"github.com/annel0/world-templates/internal/world"
)

// DefaultSettleTicks пауза между загрузкой мира и его регистрацией (1 секунда при 20 TPS)
const DefaultSettleTicks = 20

// SettlePolicy решает, когда загруженный мир готов к регистрации.
// AfterInstantiate вызывается на главном потоке. Если она вернула nil, то ровно один
// раз вызывает либо next, либо abort (например, главный поток остановлен до срока).
type SettlePolicy interface {
	AfterInstantiate(h world.Handle, next func(), abort func(error)) error
}

// TickDelay откладывает next на фиксированное число тиков главного потока
type TickDelay struct {
	Thread *scheduler.MainThread
	Ticks  uint64
}

func (p TickDelay) AfterInstantiate(_ world.Handle, next func(), abort func(error)) error {
	if p.Thread == nil {
		return errors.New("tick delay: main thread is nil")
	}
	return p.Thread.RunTaskLaterOrDrop(p.Ticks, next, abort)
}

// Immediate вызывает next сразу, в том же задании главного потока
type Immediate struct{}

func (Immediate) AfterInstantiate(_ world.Handle, next func(), _ func(error)) error {
	next()
	return nil
}

// ReadinessPoll опрашивает Checker каждый тик. Когда мир готов или бюджет MaxTicks
// исчерпан, вызывается next. MaxTicks == 0 означает DefaultSettleTicks.
type ReadinessPoll struct {
	Thread   *scheduler.MainThread
	Checker  world.ReadinessChecker
	MaxTicks uint64
}

func (p ReadinessPoll) AfterInstantiate(h world.Handle, next func(), abort func(error)) error {
	if p.Thread == nil || p.Checker == nil {
		return errors.New("readiness poll: main thread and checker are required")
	}
	budget := p.MaxTicks
	if budget == 0 {
		budget = DefaultSettleTicks
	}

	var poll func(left uint64)
	poll = func(left uint64) {
		if p.Checker.IsReady(h) || left == 0 {
			next()
			return
		}
		if err := p.Thread.RunTaskLaterOrDrop(1, func() { poll(left - 1) }, abort); err != nil {
			abort(err)
		}
	}
	return p.Thread.RunTaskOrDrop(func() { poll(budget) }, abort)
}
