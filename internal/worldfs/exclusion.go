package worldfs

import "sort"

// Файлы с идентичностью сессии хоста. Их нельзя переносить в шаблон или в новую копию мира.
const (
	SessionLockFile = "session.lock"
	UIDFile         = "uid.dat"
)

// ExclusionSet множество базовых имён файлов, которые никогда не копируются.
type ExclusionSet map[string]struct{}

// DefaultExclusions возвращает обязательный набор исключений.
func DefaultExclusions() ExclusionSet {
	return ExclusionSet{
		SessionLockFile: {},
		UIDFile:         {},
	}
}

// NewExclusionSet возвращает обязательные исключения плюс extra.
// Обязательные имена убрать нельзя.
func NewExclusionSet(extra ...string) ExclusionSet {
	set := DefaultExclusions()
	for _, name := range extra {
		if name != "" {
			set[name] = struct{}{}
		}
	}
	return set
}

// Contains проверяет базовое имя файла
func (s ExclusionSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Names возвращает отсортированный список имён
func (s ExclusionSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
