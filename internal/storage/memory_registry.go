package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/annel0/world-templates/internal/world"
)

// MemoryRegistry реализует world.Registry в памяти.
// Используется по умолчанию и в тестах.
// ВНИМАНИЕ: Данные теряются при перезапуске!
type MemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]world.Record // имя мира -> запись
	now     func() time.Time
}

// NewMemoryRegistry создает новый реестр в памяти.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		records: make(map[string]world.Record),
		now:     time.Now,
	}
}

// Register сохраняет запись о мире. Повторная регистрация перезаписывает запись.
func (r *MemoryRegistry) Register(ctx context.Context, h world.Handle, opts world.RegisterOptions) error {
	if h.Name == "" {
		return fmt.Errorf("недействительное имя мира: %q", h.Name)
	}

	// Проверяем контекст на отмену
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[h.Name] = world.NewRecord(h, opts, r.now())
	return nil
}

// Unregister удаляет запись. Отсутствие записи не ошибка.
func (r *MemoryRegistry) Unregister(ctx context.Context, name string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, name)
	return nil
}

// Lookup возвращает запись о мире
func (r *MemoryRegistry) Lookup(ctx context.Context, name string) (world.Record, bool, error) {
	select {
	case <-ctx.Done():
		return world.Record{}, false, ctx.Err()
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[name]
	return rec, ok, nil
}

// List возвращает все записи, отсортированные по имени
func (r *MemoryRegistry) List(ctx context.Context) ([]world.Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]world.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close ничего не делает; нужен для совместимости с BadgerRegistry
func (r *MemoryRegistry) Close() error {
	return nil
}
