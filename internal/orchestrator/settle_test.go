package orchestrator

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/annel0/world-templates/internal/scheduler"
	"github.com/annel0/world-templates/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingChecker struct {
	calls   atomic.Int32
	readyAt int32
}

func (c *countingChecker) IsReady(world.Handle) bool {
	return c.calls.Add(1) >= c.readyAt
}

func startThread(t *testing.T) *scheduler.MainThread {
	t.Helper()
	m := scheduler.NewMainThread(time.Millisecond)
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

func runSettle(t *testing.T, m *scheduler.MainThread, p SettlePolicy) (startTick, endTick uint64) {
	t.Helper()
	done := make(chan uint64, 1)
	started := make(chan uint64, 1)

	require.NoError(t, m.RunTask(func() {
		started <- m.CurrentTick()
		next := func() { done <- m.CurrentTick() }
		abort := func(err error) { t.Errorf("abort: %v", err) }
		if err := p.AfterInstantiate(world.Handle{Name: "w"}, next, abort); err != nil {
			t.Errorf("settle: %v", err)
		}
	}))

	select {
	case endTick = <-done:
	case <-time.After(waitTimeout):
		t.Fatal("next не вызван")
	}
	return <-started, endTick
}

func TestTickDelay(t *testing.T) {
	m := startThread(t)

	start, end := runSettle(t, m, TickDelay{Thread: m, Ticks: 3})
	assert.Equal(t, start+3, end)

	assert.Error(t, TickDelay{}.AfterInstantiate(world.Handle{}, func() {}, func(error) {}))
}

func TestImmediate(t *testing.T) {
	m := startThread(t)

	start, end := runSettle(t, m, Immediate{})
	assert.Equal(t, start, end)
}

func TestReadinessPoll(t *testing.T) {
	t.Run("Ready After Polls", func(t *testing.T) {
		m := startThread(t)
		checker := &countingChecker{readyAt: 3}

		start, end := runSettle(t, m, ReadinessPoll{Thread: m, Checker: checker, MaxTicks: 50})
		assert.Equal(t, int32(3), checker.calls.Load())
		// первый опрос на следующем тике, дальше по одному за тик
		assert.Equal(t, start+3, end)
	})

	t.Run("Budget Exhausted", func(t *testing.T) {
		m := startThread(t)
		checker := &countingChecker{readyAt: 1000}

		start, end := runSettle(t, m, ReadinessPoll{Thread: m, Checker: checker, MaxTicks: 4})
		assert.Equal(t, start+5, end)
		assert.Equal(t, int32(5), checker.calls.Load())
	})

	t.Run("Missing Checker", func(t *testing.T) {
		m := startThread(t)
		assert.Error(t, ReadinessPoll{Thread: m}.AfterInstantiate(world.Handle{}, func() {}, func(error) {}))
	})
}

// TestSettleAbortOnStop остановка главного потока до срока вызывает abort вместо next
func TestSettleAbortOnStop(t *testing.T) {
	policies := map[string]func(m *scheduler.MainThread) SettlePolicy{
		"TickDelay": func(m *scheduler.MainThread) SettlePolicy {
			return TickDelay{Thread: m, Ticks: 1000}
		},
		"ReadinessPoll": func(m *scheduler.MainThread) SettlePolicy {
			return ReadinessPoll{Thread: m, Checker: &countingChecker{readyAt: 1 << 30}, MaxTicks: 1000}
		},
	}
	for name, build := range policies {
		t.Run(name, func(t *testing.T) {
			m := scheduler.NewMainThread(time.Millisecond)
			m.Start()
			defer m.Stop()

			aborted := make(chan error, 1)
			var nextCalled atomic.Bool
			require.NoError(t, m.RunTask(func() {
				err := build(m).AfterInstantiate(world.Handle{Name: "w"},
					func() { nextCalled.Store(true) },
					func(err error) { aborted <- err })
				assert.NoError(t, err)
			}))

			// Ждём, пока политика встанет в очередь, затем останавливаем поток
			time.Sleep(20 * time.Millisecond)
			m.Stop()

			select {
			case err := <-aborted:
				assert.ErrorIs(t, err, scheduler.ErrStopped)
			case <-time.After(waitTimeout):
				t.Fatal("abort не вызван")
			}
			assert.False(t, nextCalled.Load())
		})
	}
}
