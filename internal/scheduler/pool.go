package scheduler

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/annel0/world-templates/internal/logging"
)

// Pool пул воркеров для блокирующих файловых операций
type Pool struct {
	tasks   chan func()
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	workers int
	log     *logging.Logger
}

// NewPool создаёт пул и сразу запускает воркеры
func NewPool(workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}

	p := &Pool{
		tasks:   make(chan func(), workerCount*2),
		workers: workerCount,
		log:     logging.GetSchedulerLogger(),
	}

	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	return p
}

// Workers возвращает количество воркеров
func (p *Pool) Workers() int {
	return p.workers
}

// Submit ставит задачу в очередь; блокируется, пока очередь заполнена
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrStopped
	}

	select {
	case p.tasks <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop перестаёт принимать задачи, выполняет уже принятые и ждёт воркеры
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker выполняет задачи из очереди
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for fn := range p.tasks {
		p.run(id, fn)
	}
}

func (p *Pool) run(id int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("❌ Паника в воркере %d: %v\n%s", id, r, debug.Stack())
		}
	}()
	fn()
}
