package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMainThreadRunsTasksInOrder(t *testing.T) {
	m := NewMainThread(time.Millisecond)
	m.Start()
	defer m.Stop()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, m.RunTask(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 4 {
				close(done)
			}
		}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("задачи главного потока не выполнены")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestMainThreadDelayedTaskWaitsForTicks(t *testing.T) {
	m := NewMainThread(time.Millisecond)
	m.Start()
	defer m.Stop()

	start := make(chan uint64, 1)
	fired := make(chan uint64, 1)

	require.NoError(t, m.RunTask(func() {
		start <- m.CurrentTick()
		assert.NoError(t, m.RunTaskLater(5, func() {
			fired <- m.CurrentTick()
		}))
	}))

	var s, f uint64
	select {
	case s = <-start:
	case <-time.After(2 * time.Second):
		t.Fatal("задача не стартовала")
	}
	select {
	case f = <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("отложенная задача не выполнена")
	}
	assert.Equal(t, s+5, f, "отложенная задача должна сработать ровно через 5 тиков")
}

func TestMainThreadNeverRunsTasksConcurrently(t *testing.T) {
	m := NewMainThread(time.Millisecond)
	m.Start()
	defer m.Stop()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(100 * time.Microsecond)
			atomic.AddInt32(&active, -1)
		}
		if i%2 == 0 {
			require.NoError(t, m.RunTask(task))
		} else {
			require.NoError(t, m.RunTaskLater(uint64(i%3), task))
		}
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestMainThreadRecoversPanic(t *testing.T) {
	m := NewMainThread(time.Millisecond)
	m.Start()
	defer m.Stop()

	done := make(chan struct{})
	require.NoError(t, m.RunTask(func() { panic("boom") }))
	require.NoError(t, m.RunTask(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("после паники цикл должен продолжить работу")
	}
}

func TestMainThreadStopped(t *testing.T) {
	m := NewMainThread(time.Millisecond)
	assert.ErrorIs(t, m.RunTask(func() {}), ErrStopped)

	m.Start()
	m.Stop()
	assert.ErrorIs(t, m.RunTaskLater(1, func() {}), ErrStopped)
	m.Stop() // повторная остановка безопасна
}

// TestMainThreadStopReportsDroppedTasks отброшенные задачи получают ErrStopped
func TestMainThreadStopReportsDroppedTasks(t *testing.T) {
	m := NewMainThread(time.Hour)
	m.Start()

	var ran atomic.Bool
	var drops []error
	onDrop := func(err error) { drops = append(drops, err) }

	require.NoError(t, m.RunTaskOrDrop(func() { ran.Store(true) }, onDrop))
	require.NoError(t, m.RunTaskLaterOrDrop(100, func() { ran.Store(true) }, onDrop))
	require.NoError(t, m.RunTask(func() { ran.Store(true) }))

	m.Stop()

	assert.False(t, ran.Load())
	require.Len(t, drops, 2)
	for _, err := range drops {
		assert.ErrorIs(t, err, ErrStopped)
	}

	assert.ErrorIs(t, m.RunTaskOrDrop(func() {}, onDrop), ErrStopped)
	assert.Len(t, drops, 2, "onDrop не вызывается, если задача не принята")
}

func TestPoolRunsAllTasksBeforeStop(t *testing.T) {
	p := NewPool(3)
	assert.Equal(t, 3, p.Workers())

	var count int32
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit(context.Background(), func() {
			atomic.AddInt32(&count, 1)
		}))
	}
	p.Stop()

	assert.Equal(t, int32(50), atomic.LoadInt32(&count))
	assert.ErrorIs(t, p.Submit(context.Background(), func() {}), ErrStopped)
}

func TestPoolSubmitHonoursContext(t *testing.T) {
	p := NewPool(1)
	defer p.Stop()

	block := make(chan struct{})
	defer close(block)

	// Занимаем воркер и заполняем очередь
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() {
		close(started)
		<-block
	}))
	<-started
	for i := 0; i < 2; i++ {
		require.NoError(t, p.Submit(context.Background(), func() {}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
