package orchestrator

import "errors"

// Ошибки операций с шаблонами. Причина оборачивается через %w,
// проверка через errors.Is.
var (
	// ErrSourceNotFound исходный мир не загружен в рантайме
	ErrSourceNotFound = errors.New("source world not found")
	// ErrTemplateNotFound каталог шаблона отсутствует
	ErrTemplateNotFound = errors.New("template not found")
	// ErrDuplicationFailed копирование шаблона в каталог нового мира не удалось
	ErrDuplicationFailed = errors.New("template duplication failed")
	// ErrInitializationFailed рантайм не вернул мир после копирования
	ErrInitializationFailed = errors.New("world initialization failed")
	// ErrInstantiation рантайм вернул ошибку или упал при загрузке мира
	ErrInstantiation = errors.New("world instantiation error")
	// ErrRegistrationFailed реестр отклонил новый мир
	ErrRegistrationFailed = errors.New("world registration failed")
	// ErrDeletionFailed каталог шаблона не удалось удалить
	ErrDeletionFailed = errors.New("template deletion failed")
)
