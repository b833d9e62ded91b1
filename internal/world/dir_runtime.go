package world

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/annel0/world-templates/internal/logging"
	"github.com/google/uuid"
)

// Файлы, по которым рантайм узнаёт каталог мира и его идентичность
const (
	LevelFile       = "level.dat"
	SessionLockFile = "session.lock"
	UIDFile         = "uid.dat"
)

// DirRuntime рантайм, в котором каждый мир является каталогом внутри контейнера.
//
// Загрузка мира пишет свежий session.lock и, если его нет, uid.dat с новым UUID.
// Поэтому копии шаблона получают собственную идентичность.
type DirRuntime struct {
	container string
	mu        sync.RWMutex
	worlds    map[string]*Handle
	log       *logging.Logger
	now       func() time.Time
}

// NewDirRuntime создаёт рантайм над каталогом container
func NewDirRuntime(container string) (*DirRuntime, error) {
	abs, err := filepath.Abs(container)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать контейнер миров %s: %w", abs, err)
	}

	return &DirRuntime{
		container: abs,
		worlds:    make(map[string]*Handle),
		log:       logging.GetRuntimeLogger(),
		now:       time.Now,
	}, nil
}

// WorldContainer возвращает каталог, в котором лежат миры
func (r *DirRuntime) WorldContainer() string {
	return r.container
}

// FindWorld ищет загруженный мир
func (r *DirRuntime) FindWorld(name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.worlds[name]
	if !ok {
		return nil, false
	}
	cp := *h
	return &cp, true
}

// Worlds возвращает загруженные миры, отсортированные по имени
func (r *DirRuntime) Worlds() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handle, 0, len(r.worlds))
	for _, h := range r.worlds {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Discover загружает все каталоги контейнера, содержащие level.dat
func (r *DirRuntime) Discover(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(r.container)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.container, e.Name(), LevelFile)); err != nil {
			continue
		}
		h, err := r.InstantiateWorld(ctx, e.Name())
		if err != nil {
			return loaded, err
		}
		if h != nil {
			loaded++
		}
	}

	r.log.Info("🌍 Обнаружено миров: %d в %s", loaded, r.container)
	return loaded, nil
}

// InstantiateWorld загружает мир из каталога container/name.
// Отсутствующий каталог даёт nil, nil. Уже загруженный мир возвращается как есть.
func (r *DirRuntime) InstantiateWorld(ctx context.Context, name string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if h, ok := r.FindWorld(name); ok {
		return h, nil
	}

	dir := filepath.Join(r.container, name)
	info, err := os.Stat(dir)
	if os.IsNotExist(err) || (err == nil && !info.IsDir()) {
		r.log.Warn("⚠️ Каталог мира %s не найден", dir)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	id, err := r.ensureUID(dir)
	if err != nil {
		return nil, fmt.Errorf("uid мира %s: %w", name, err)
	}
	if err := r.writeSessionLock(dir); err != nil {
		return nil, fmt.Errorf("session.lock мира %s: %w", name, err)
	}

	h := &Handle{
		ID:          id,
		Name:        name,
		Dir:         dir,
		Environment: EnvironmentNormal,
		LoadedAt:    r.now(),
	}

	r.mu.Lock()
	r.worlds[name] = h
	r.mu.Unlock()

	r.log.Info("🌍 Мир %s загружен (uid=%s)", name, id)
	cp := *h
	return &cp, nil
}

// Unload выгружает мир и удаляет его session.lock
func (r *DirRuntime) Unload(name string) bool {
	r.mu.Lock()
	h, ok := r.worlds[name]
	delete(r.worlds, name)
	r.mu.Unlock()

	if !ok {
		return false
	}
	if err := os.Remove(filepath.Join(h.Dir, SessionLockFile)); err != nil && !os.IsNotExist(err) {
		r.log.Warn("⚠️ Не удалось удалить session.lock мира %s: %v", name, err)
	}
	return true
}

// IsReady мир готов, когда session.lock записан
func (r *DirRuntime) IsReady(h Handle) bool {
	_, err := os.Stat(filepath.Join(h.Dir, SessionLockFile))
	return err == nil
}

// ensureUID читает uid.dat или создаёт новый
func (r *DirRuntime) ensureUID(dir string) (uuid.UUID, error) {
	path := filepath.Join(dir, UIDFile)

	data, err := os.ReadFile(path)
	if err == nil && len(data) == 16 {
		return uuid.FromBytes(data)
	}
	if err != nil && !os.IsNotExist(err) {
		return uuid.Nil, err
	}

	id := uuid.New()
	if err := os.WriteFile(path, id[:], 0644); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// writeSessionLock пишет текущее время в миллисекундах (big-endian int64)
func (r *DirRuntime) writeSessionLock(dir string) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(r.now().UnixMilli()))
	return os.WriteFile(filepath.Join(dir, SessionLockFile), buf, 0644)
}
