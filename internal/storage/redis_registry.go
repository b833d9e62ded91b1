package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/annel0/world-templates/internal/world"
	"github.com/go-redis/redis/v8"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string // Адрес Redis сервера
	Password  string // Пароль (пустой если не требуется)
	DB        int    // Номер базы данных
	KeyPrefix string // Префикс для ключей
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "worldtpl:",
	}
}

// RedisRegistry реестр миров в Redis.
// Запись хранится как JSON под ключом <prefix>world:<name>, имена собраны в множестве <prefix>worlds.
type RedisRegistry struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// NewRedisRegistry подключается к Redis и проверяет соединение
func NewRedisRegistry(config *RedisConfig) (*RedisRegistry, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisRegistry{
		client:    client,
		keyPrefix: config.KeyPrefix,
		now:       time.Now,
	}, nil
}

func (r *RedisRegistry) recordKey(name string) string {
	return r.keyPrefix + recordPrefix + name
}

func (r *RedisRegistry) indexKey() string {
	return r.keyPrefix + "worlds"
}

// Register сохраняет запись и добавляет имя в индекс одной транзакцией
func (r *RedisRegistry) Register(ctx context.Context, h world.Handle, opts world.RegisterOptions) error {
	if h.Name == "" {
		return fmt.Errorf("недействительное имя мира: %q", h.Name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(world.NewRecord(h, opts, r.now()))
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.recordKey(h.Name), data, 0)
		pipe.SAdd(ctx, r.indexKey(), h.Name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в Redis: %w", err)
	}
	return nil
}

// Unregister удаляет запись. Отсутствие записи не ошибка.
func (r *RedisRegistry) Unregister(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.recordKey(name))
		pipe.SRem(ctx, r.indexKey(), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления из Redis: %w", err)
	}
	return nil
}

// Lookup читает запись о мире
func (r *RedisRegistry) Lookup(ctx context.Context, name string) (world.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return world.Record{}, false, err
	}

	data, err := r.client.Get(ctx, r.recordKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return world.Record{}, false, nil
	}
	if err != nil {
		return world.Record{}, false, fmt.Errorf("ошибка чтения из Redis: %w", err)
	}

	var rec world.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return world.Record{}, false, fmt.Errorf("ошибка десериализации записи: %w", err)
	}
	return rec, true, nil
}

// List возвращает все записи, отсортированные по имени
func (r *RedisRegistry) List(ctx context.Context) ([]world.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	names, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения индекса Redis: %w", err)
	}
	if len(names) == 0 {
		return nil, nil
	}

	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = r.recordKey(name)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из Redis: %w", err)
	}

	out := make([]world.Record, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // запись удалена между SMEMBERS и MGET
		}
		var rec world.Record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("ошибка десериализации записи: %w", err)
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close закрывает соединение с Redis
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
