package world

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Environment тип измерения мира
type Environment string

const (
	EnvironmentNormal Environment = "NORMAL"
	EnvironmentNether Environment = "NETHER"
	EnvironmentEnd    Environment = "THE_END"
)

// Handle описатель загруженного мира. Владеет им рантайм мира.
type Handle struct {
	ID          uuid.UUID   // Идентификатор, записанный в uid.dat
	Name        string      // Имя мира (= имя каталога в контейнере)
	Dir         string      // Абсолютный путь каталога мира
	Environment Environment // Измерение
	LoadedAt    time.Time   // Время загрузки
}

// RegisterOptions метаданные регистрации. Нулевое значение означает значения по умолчанию.
type RegisterOptions struct {
	Environment Environment // Пусто: берётся из Handle
	Generator   string      // Пусто: генератор по умолчанию
	Seed        *int64      // nil: сид мира
	AdjustSpawn bool
}

// Record запись реестра о зарегистрированном мире
type Record struct {
	ID           uuid.UUID   `json:"id"`
	Name         string      `json:"name"`
	Dir          string      `json:"dir"`
	Environment  Environment `json:"environment"`
	Generator    string      `json:"generator,omitempty"`
	Seed         *int64      `json:"seed,omitempty"`
	AdjustSpawn  bool        `json:"adjust_spawn"`
	RegisteredAt time.Time   `json:"registered_at"`
}

// NewRecord собирает запись реестра из описателя и опций
func NewRecord(h Handle, opts RegisterOptions, now time.Time) Record {
	env := opts.Environment
	if env == "" {
		env = h.Environment
	}
	return Record{
		ID:           h.ID,
		Name:         h.Name,
		Dir:          h.Dir,
		Environment:  env,
		Generator:    opts.Generator,
		Seed:         opts.Seed,
		AdjustSpawn:  opts.AdjustSpawn,
		RegisteredAt: now.UTC(),
	}
}

// Runtime внешний рантайм миров.
//
// InstantiateWorld разрешено вызывать только из главного потока.
// Результат nil, nil означает, что рантайм не смог создать мир, не сообщив причину.
type Runtime interface {
	FindWorld(name string) (*Handle, bool)
	WorldContainer() string
	InstantiateWorld(ctx context.Context, name string) (*Handle, error)
}

// Registry внешний реестр миров
type Registry interface {
	Register(ctx context.Context, h Handle, opts RegisterOptions) error
	Unregister(ctx context.Context, name string) error
	Lookup(ctx context.Context, name string) (Record, bool, error)
}

// ReadinessChecker сообщает, что побочные эффекты загрузки мира завершились
type ReadinessChecker interface {
	IsReady(h Handle) bool
}
