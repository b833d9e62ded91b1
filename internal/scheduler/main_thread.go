package scheduler

import (
	"container/heap"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/annel0/world-templates/internal/logging"
)

// ErrStopped планировщик не запущен или уже остановлен
var ErrStopped = errors.New("scheduler is stopped")

// DefaultTickInterval 20 тиков в секунду
const DefaultTickInterval = 50 * time.Millisecond

// MainThread однопоточный контекст исполнения мира.
//
// Все задачи выполняются в одной горутине строго по очереди: сначала задачи,
// поставленные через RunTask (в порядке постановки), затем отложенные задачи,
// срок которых наступил на этом тике. Параллельно две задачи не выполняются никогда.
type MainThread struct {
	interval time.Duration
	log      *logging.Logger

	mu      sync.Mutex
	tick    uint64
	seq     uint64
	queue   []task
	delayed delayedQueue
	running bool

	quit chan struct{}
	done chan struct{}
}

// task задача главного потока. onDrop вызывается с ErrStopped,
// если Stop отбросил задачу до выполнения.
type task struct {
	fn     func()
	onDrop func(error)
}

type delayedTask struct {
	due uint64
	seq uint64
	task
}

// NewMainThread создаёт планировщик с указанной длительностью тика
func NewMainThread(interval time.Duration) *MainThread {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &MainThread{
		interval: interval,
		log:      logging.GetSchedulerLogger(),
	}
}

// Start запускает цикл тиков. Повторный вызов ничего не делает.
func (m *MainThread) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(m.quit, m.done)
}

// Stop останавливает цикл и ждёт завершения текущего тика.
// Невыполненные задачи отбрасываются, их onDrop получает ErrStopped.
func (m *MainThread) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	quit, done := m.quit, m.done
	dropped := m.queue
	for _, d := range m.delayed {
		dropped = append(dropped, d.task)
	}
	m.queue = nil
	m.delayed = nil
	m.mu.Unlock()

	close(quit)
	<-done

	if len(dropped) == 0 {
		return
	}
	m.log.Warn("⚠️ Главный поток остановлен, отброшено задач: %d", len(dropped))
	for _, t := range dropped {
		if t.onDrop != nil {
			m.dropSafe(t.onDrop)
		}
	}
}

// CurrentTick возвращает номер последнего выполненного тика
func (m *MainThread) CurrentTick() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tick
}

// Interval возвращает длительность тика
func (m *MainThread) Interval() time.Duration {
	return m.interval
}

// RunTask ставит задачу на ближайший тик
func (m *MainThread) RunTask(fn func()) error {
	return m.RunTaskOrDrop(fn, nil)
}

// RunTaskOrDrop как RunTask, но onDrop вызывается, если Stop отбросит задачу
func (m *MainThread) RunTaskOrDrop(fn func(), onDrop func(error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return ErrStopped
	}
	m.queue = append(m.queue, task{fn: fn, onDrop: onDrop})
	return nil
}

// RunTaskLater ставит задачу через ticks тиков (0 трактуется как 1)
func (m *MainThread) RunTaskLater(ticks uint64, fn func()) error {
	return m.RunTaskLaterOrDrop(ticks, fn, nil)
}

// RunTaskLaterOrDrop как RunTaskLater, но onDrop вызывается, если Stop отбросит задачу
func (m *MainThread) RunTaskLaterOrDrop(ticks uint64, fn func(), onDrop func(error)) error {
	if ticks == 0 {
		ticks = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return ErrStopped
	}
	m.seq++
	heap.Push(&m.delayed, delayedTask{due: m.tick + ticks, seq: m.seq, task: task{fn: fn, onDrop: onDrop}})
	return nil
}

func (m *MainThread) loop(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			m.processTick()
		}
	}
}

// processTick выполняет все задачи текущего тика
func (m *MainThread) processTick() {
	m.mu.Lock()
	m.tick++
	tick := m.tick
	tasks := m.queue
	m.queue = nil
	for m.delayed.Len() > 0 && m.delayed[0].due <= tick {
		tasks = append(tasks, heap.Pop(&m.delayed).(delayedTask).task)
	}
	m.mu.Unlock()

	for _, t := range tasks {
		m.runSafe(tick, t.fn)
	}
}

func (m *MainThread) runSafe(tick uint64, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("❌ Паника в задаче главного потока (тик %d): %v\n%s", tick, r, debug.Stack())
		}
	}()
	fn()
}

func (m *MainThread) dropSafe(onDrop func(error)) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("❌ Паника в onDrop отброшенной задачи: %v\n%s", r, debug.Stack())
		}
	}()
	onDrop(ErrStopped)
}

// delayedQueue min-heap по (due, seq)
type delayedQueue []delayedTask

func (q delayedQueue) Len() int { return len(q) }
func (q delayedQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}
func (q delayedQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *delayedQueue) Push(x any)   { *q = append(*q, x.(delayedTask)) }
func (q *delayedQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
