package storage

import (
	"context"
	"fmt"

	"github.com/annel0/world-templates/internal/world"
)

// WorldRegistry реестр миров с перечислением и закрытием.
// Реализации: MemoryRegistry (по умолчанию), BadgerRegistry (локальная база),
// RedisRegistry, MariaRegistry и MongoRegistry (общий реестр для нескольких узлов).
type WorldRegistry interface {
	world.Registry

	// List возвращает все записи, отсортированные по имени
	List(ctx context.Context) ([]world.Record, error)

	// Close освобождает ресурсы хранилища
	Close() error
}

// Options параметры выбора реестра
type Options struct {
	Backend string // memory | badger | redis | maria | mongo
	Path    string // Каталог данных для badger
	DSN     string // Адрес сервера для redis, maria, mongo
}

// OpenRegistry создаёт реестр по имени бэкенда
func OpenRegistry(opts Options) (WorldRegistry, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemoryRegistry(), nil
	case "badger":
		return NewBadgerRegistry(opts.Path)
	case "redis":
		cfg := DefaultRedisConfig()
		if opts.DSN != "" {
			cfg.Addr = opts.DSN
		}
		return NewRedisRegistry(cfg)
	case "maria", "mysql":
		if opts.DSN == "" {
			return nil, fmt.Errorf("бэкенд %s требует registry.dsn", opts.Backend)
		}
		return NewMariaRegistry(opts.DSN)
	case "mongo":
		return NewMongoRegistry(MongoConfig{URI: opts.DSN})
	default:
		return nil, fmt.Errorf("неизвестный бэкенд реестра: %q", opts.Backend)
	}
}
