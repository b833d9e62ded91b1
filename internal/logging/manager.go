package logging

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Компоненты world-templates, у каждого свой логгер и свой файл в каталоге логов
const (
	ComponentOrchestrator = "orchestrator"
	ComponentWorldFS      = "worldfs"
	ComponentScheduler    = "scheduler"
	ComponentRuntime      = "runtime"
	ComponentEventBus     = "eventbus"
	ComponentAPI          = "api"
	ComponentHTTP         = "http"
)

// LoggerManager раздаёт логгеры компонентов и держит для них общие пороги.
// Пороги, заданные через SetLevels и SetComponentLevel, применяются и к логгерам,
// созданным позже: CLI настраивает уровни до того, как компоненты запросят логгеры.
type LoggerManager struct {
	mu      sync.RWMutex
	loggers map[string]*Logger

	levelsSet    bool
	console      LogLevel
	file         LogLevel
	perComponent map[string]LogLevel
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = newLoggerManager()
	})
	return globalManager
}

func newLoggerManager() *LoggerManager {
	return &LoggerManager{
		loggers:      make(map[string]*Logger),
		perComponent: make(map[string]LogLevel),
	}
}

// GetLogger возвращает логгер компонента, создавая его при первом обращении
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	if logger, exists := lm.loggers[component]; exists {
		lm.mu.RUnlock()
		return logger, nil
	}
	lm.mu.RUnlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if logger, exists := lm.loggers[component]; exists {
		return logger, nil
	}

	logger, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger for %s: %w", component, err)
	}
	lm.applyLocked(component, logger)
	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger возвращает логгер или консольный, если файл логов недоступен.
// Консольный логгер в менеджере не запоминается: следующий вызов снова попробует файл.
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err != nil {
		logger = NewConsoleLogger(component, os.Stdout)
		lm.mu.RLock()
		lm.applyLocked(component, logger)
		lm.mu.RUnlock()
		logger.Warn("⚠️ Файл логов недоступен, пишем только в консоль: %v", err)
	}
	return logger
}

// SetLevels задаёт пороги всем компонентам без собственного уровня
func (lm *LoggerManager) SetLevels(console, file LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.levelsSet = true
	lm.console, lm.file = console, file
	for component, logger := range lm.loggers {
		lm.applyLocked(component, logger)
	}
}

// SetComponentLevel задаёт консольный порог одному компоненту, в том числе ещё не созданному
func (lm *LoggerManager) SetComponentLevel(component string, console LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.perComponent[component] = console
	if logger, exists := lm.loggers[component]; exists {
		lm.applyLocked(component, logger)
	}
}

// ConfigureLevels разбирает уровень по умолчанию и переопределения вида {"worldfs": "debug"}
func (lm *LoggerManager) ConfigureLevels(level string, components map[string]string) {
	lm.SetLevels(ParseLevel(level), TRACE)
	for component, lvl := range components {
		lm.SetComponentLevel(strings.TrimSpace(component), ParseLevel(lvl))
	}
}

// applyLocked выставляет логгеру актуальные пороги; вызывается под lm.mu
func (lm *LoggerManager) applyLocked(component string, logger *Logger) {
	console, file := INFO, TRACE
	if lm.levelsSet {
		console, file = lm.console, lm.file
	}
	if lvl, ok := lm.perComponent[component]; ok {
		console = lvl
	}
	logger.SetLevels(console, file)
}

// CloseAll закрывает файлы всех логгеров и забывает их
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs []error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close logger for %s: %w", component, err))
		}
	}
	lm.loggers = make(map[string]*Logger)
	return errors.Join(errs...)
}

// ListComponents возвращает отсортированный список компонентов с созданными логгерами
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	components := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		components = append(components, component)
	}
	sort.Strings(components)
	return components
}

// SetLogLevel меняет пороги уже созданного логгера
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.RLock()
	logger, exists := lm.loggers[component]
	lm.mu.RUnlock()

	if !exists {
		return fmt.Errorf("logger for component %s not found", component)
	}

	logger.SetLevels(consoleLevel, fileLevel)
	return nil
}

func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetFSLogger() *Logger {
	return GetComponentLogger(ComponentWorldFS)
}

func GetOrchestratorLogger() *Logger {
	return GetComponentLogger(ComponentOrchestrator)
}

func GetSchedulerLogger() *Logger {
	return GetComponentLogger(ComponentScheduler)
}

func GetRuntimeLogger() *Logger {
	return GetComponentLogger(ComponentRuntime)
}
