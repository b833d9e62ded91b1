package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/annel0/world-templates/internal/world"
	"github.com/dgraph-io/badger/v3"
)

const recordPrefix = "world:"

// ErrNotReady хранилище закрыто
var ErrNotReady = errors.New("хранилище не готово")

// BadgerRegistry реестр миров поверх BadgerDB.
// Записи хранятся как JSON под ключом world:<name>.
type BadgerRegistry struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
	now     func() time.Time
}

// NewBadgerRegistry открывает (или создаёт) базу в dataPath/registry
func NewBadgerRegistry(dataPath string) (*BadgerRegistry, error) {
	dbPath := filepath.Join(dataPath, "registry")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	return openBadgerRegistry(opts, dbPath)
}

// NewInMemoryBadgerRegistry открывает BadgerDB без диска (для тестов)
func NewInMemoryBadgerRegistry() (*BadgerRegistry, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	return openBadgerRegistry(opts, "")
}

func openBadgerRegistry(opts badger.Options, dbPath string) (*BadgerRegistry, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerRegistry{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
		now:     time.Now,
	}, nil
}

// Close закрывает хранилище данных
func (br *BadgerRegistry) Close() error {
	br.mutex.Lock()
	defer br.mutex.Unlock()

	if !br.isReady {
		return nil
	}

	br.isReady = false
	return br.db.Close()
}

// Register сохраняет запись о мире
func (br *BadgerRegistry) Register(ctx context.Context, h world.Handle, opts world.RegisterOptions) error {
	if h.Name == "" {
		return fmt.Errorf("недействительное имя мира: %q", h.Name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	br.mutex.RLock()
	defer br.mutex.RUnlock()

	if !br.isReady {
		return ErrNotReady
	}

	data, err := json.Marshal(world.NewRecord(h, opts, br.now()))
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}

	err = br.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(h.Name), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}

	return nil
}

// Unregister удаляет запись. Отсутствие записи не ошибка.
func (br *BadgerRegistry) Unregister(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	br.mutex.RLock()
	defer br.mutex.RUnlock()

	if !br.isReady {
		return ErrNotReady
	}

	err := br.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(name))
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}
	return nil
}

// Lookup читает запись о мире
func (br *BadgerRegistry) Lookup(ctx context.Context, name string) (world.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return world.Record{}, false, err
	}

	br.mutex.RLock()
	defer br.mutex.RUnlock()

	if !br.isReady {
		return world.Record{}, false, ErrNotReady
	}

	var data []byte
	err := br.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(name))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return world.Record{}, false, nil
	}
	if err != nil {
		return world.Record{}, false, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	var rec world.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return world.Record{}, false, fmt.Errorf("ошибка десериализации записи: %w", err)
	}
	return rec, true, nil
}

// List возвращает все записи, отсортированные по имени
func (br *BadgerRegistry) List(ctx context.Context) ([]world.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	br.mutex.RLock()
	defer br.mutex.RUnlock()

	if !br.isReady {
		return nil, ErrNotReady
	}

	var out []world.Record
	err := br.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(recordPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec world.Record
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func recordKey(name string) []byte {
	return []byte(recordPrefix + name)
}
