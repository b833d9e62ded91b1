package template

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrTemplateRootUnset корневой каталог шаблонов не задан
	ErrTemplateRootUnset = errors.New("template root is not set")
	// ErrInvalidName имя шаблона не может быть использовано как имя каталога
	ErrInvalidName = errors.New("invalid template name")
)

// Store сопоставляет имена шаблонов каталогам внутри корня.
// Кроме корня ничего не хранит: каждый Resolve считается заново,
// смена корня влияет на все последующие вызовы.
type Store struct {
	mu   sync.RWMutex
	root string
}

// NewStore создаёт хранилище с корнем root (может быть пустым до SetRoot)
func NewStore(root string) *Store {
	return &Store{root: root}
}

// SetRoot задаёт корневой каталог шаблонов
func (s *Store) SetRoot(path string) {
	s.mu.Lock()
	s.root = path
	s.mu.Unlock()
}

// Root возвращает текущий корень
func (s *Store) Root() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// Resolve возвращает путь каталога шаблона
func (s *Store) Resolve(name string) (string, error) {
	root := s.Root()
	if root == "" {
		return "", ErrTemplateRootUnset
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(root, name), nil
}

// Exists проверяет наличие каталога шаблона. Каталог является единственным признаком существования.
func (s *Store) Exists(name string) (bool, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// List возвращает отсортированные имена шаблонов. Для отсутствующего корня список пуст.
func (s *Store) List() ([]string, error) {
	root := s.Root()
	if root == "" {
		return nil, ErrTemplateRootUnset
	}

	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ValidateName запрещает имена, выходящие за пределы одного каталога
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q содержит разделитель пути", ErrInvalidName, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q содержит NUL", ErrInvalidName, name)
	}
	return nil
}
