package async

import (
	"context"
	"sync"
)

// Future отложенный результат операции: значение либо ошибка, задаётся ровно один раз.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// New создаёт незавершённый Future
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed возвращает уже успешно завершённый Future
func Completed[T any](v T) *Future[T] {
	f := New[T]()
	f.Complete(v)
	return f
}

// Failed возвращает уже завершённый с ошибкой Future
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Fail(err)
	return f
}

// Complete завершает Future значением. Возвращает false, если результат уже был задан.
func (f *Future[T]) Complete(v T) bool {
	return f.settle(v, nil)
}

// Fail завершает Future ошибкой. Возвращает false, если результат уже был задан.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(v T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value = v
		f.err = err
		settled = true
		close(f.done)
	})
	return settled
}

// Done закрывается после завершения
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait ждёт результат или отмену ctx
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryResult возвращает результат без ожидания; ok == false, пока Future не завершён
func (f *Future[T]) TryResult() (v T, err error, ok bool) {
	select {
	case <-f.done:
		return f.value, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}
