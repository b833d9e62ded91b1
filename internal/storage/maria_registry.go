package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/world-templates/internal/world"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// MariaRegistry реестр миров в MariaDB/MySQL, таблица world_registry.
type MariaRegistry struct {
	db  *sql.DB
	now func() time.Time
}

// NewMariaRegistry подключается к базе и создаёт таблицу, если её нет.
//
// dsn - строка подключения (user:pass@tcp(host:port)/dbname?parseTime=true)
func NewMariaRegistry(dsn string) (*MariaRegistry, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	reg := &MariaRegistry{db: db, now: time.Now}
	if err := reg.createTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return reg, nil
}

func (r *MariaRegistry) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS world_registry (
			name          VARCHAR(255)  PRIMARY KEY,
			id            CHAR(36)      NOT NULL,
			dir           VARCHAR(4096) NOT NULL,
			environment   VARCHAR(16)   NOT NULL DEFAULT '',
			generator     VARCHAR(255)  NOT NULL DEFAULT '',
			seed          BIGINT        NULL,
			adjust_spawn  BOOLEAN       NOT NULL DEFAULT FALSE,
			registered_at DATETIME(6)   NOT NULL
		) ENGINE=InnoDB
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ошибка создания таблицы world_registry: %w", err)
	}
	return nil
}

// Register сохраняет запись. Повторная регистрация перезаписывает её.
func (r *MariaRegistry) Register(ctx context.Context, h world.Handle, opts world.RegisterOptions) error {
	if h.Name == "" {
		return fmt.Errorf("недействительное имя мира: %q", h.Name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := world.NewRecord(h, opts, r.now())
	query := `
		INSERT INTO world_registry (name, id, dir, environment, generator, seed, adjust_spawn, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			id = VALUES(id),
			dir = VALUES(dir),
			environment = VALUES(environment),
			generator = VALUES(generator),
			seed = VALUES(seed),
			adjust_spawn = VALUES(adjust_spawn),
			registered_at = VALUES(registered_at)
	`
	var seed sql.NullInt64
	if rec.Seed != nil {
		seed = sql.NullInt64{Int64: *rec.Seed, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		rec.Name, rec.ID.String(), rec.Dir, string(rec.Environment), rec.Generator, seed, rec.AdjustSpawn, rec.RegisteredAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения мира %s: %w", h.Name, err)
	}
	return nil
}

// Unregister удаляет запись. Отсутствие записи не ошибка.
func (r *MariaRegistry) Unregister(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM world_registry WHERE name = ?`, name); err != nil {
		return fmt.Errorf("ошибка удаления мира %s: %w", name, err)
	}
	return nil
}

const selectRecord = `SELECT name, id, dir, environment, generator, seed, adjust_spawn, registered_at FROM world_registry`

// Lookup читает запись о мире
func (r *MariaRegistry) Lookup(ctx context.Context, name string) (world.Record, bool, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, selectRecord+` WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return world.Record{}, false, nil
	}
	if err != nil {
		return world.Record{}, false, fmt.Errorf("ошибка загрузки мира %s: %w", name, err)
	}
	return rec, true, nil
}

// List возвращает все записи, отсортированные по имени
func (r *MariaRegistry) List(ctx context.Context) ([]world.Record, error) {
	rows, err := r.db.QueryContext(ctx, selectRecord+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения реестра: %w", err)
	}
	defer rows.Close()

	var out []world.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close закрывает соединение с базой данных
func (r *MariaRegistry) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (world.Record, error) {
	var (
		rec  world.Record
		id   string
		env  string
		seed sql.NullInt64
	)
	if err := row.Scan(&rec.Name, &id, &rec.Dir, &env, &rec.Generator, &seed, &rec.AdjustSpawn, &rec.RegisteredAt); err != nil {
		return world.Record{}, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return world.Record{}, fmt.Errorf("некорректный id мира %s: %w", rec.Name, err)
	}
	rec.ID = parsed
	rec.Environment = world.Environment(env)
	if seed.Valid {
		v := seed.Int64
		rec.Seed = &v
	}
	rec.RegisteredAt = rec.RegisteredAt.UTC()
	return rec, nil
}
