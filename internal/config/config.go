package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.
type Config struct {
	Templates TemplatesConfig `yaml:"templates"`
	Worlds    WorldsConfig    `yaml:"worlds"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Registry  RegistryConfig  `yaml:"registry"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Preflight PreflightConfig `yaml:"preflight"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type TemplatesConfig struct {
	Root    string   `yaml:"root"`
	Exclude []string `yaml:"exclude"` // Дополнительные имена к session.lock и uid.dat
}

type WorldsConfig struct {
	Container string `yaml:"container"`
}

type SchedulerConfig struct {
	TickIntervalMs int `yaml:"tick_interval_ms"`
	SettleTicks    int `yaml:"settle_ticks"`
	Workers        int `yaml:"workers"`
}

type RegistryConfig struct {
	Backend string `yaml:"backend"` // memory | badger | redis | maria | mongo
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"` // Адрес сервера для redis, maria, mongo
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type APIConfig struct {
	Addr      string `yaml:"addr"`       // Пусто = REST API не запускается
	JWTSecret string `yaml:"jwt_secret"` // base64, не короче 32 байт; пусто = без авторизации
	TokenTTL  int    `yaml:"token_ttl_hours"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

type PreflightConfig struct {
	MinFreeMB int `yaml:"min_free_mb"`
}

type LoggingConfig struct {
	Dir        string            `yaml:"dir"`
	Level      string            `yaml:"level"`
	Components map[string]string `yaml:"components"` // Уровень консоли по компонентам: worldfs: debug
}

// GetTemplateRoot возвращает каталог шаблонов: config -> env -> default
func (t *TemplatesConfig) GetTemplateRoot() string {
	return getStringWithEnvFallback(t.Root, "WORLDTPL_TEMPLATE_ROOT", "templates")
}

// GetContainer возвращает каталог миров: config -> env -> default
func (w *WorldsConfig) GetContainer() string {
	return getStringWithEnvFallback(w.Container, "WORLDTPL_WORLD_CONTAINER", "worlds")
}

// GetTickInterval возвращает длительность одного тика главного потока
func (s *SchedulerConfig) GetTickInterval() time.Duration {
	ms := getIntWithEnvFallback(s.TickIntervalMs, "WORLDTPL_TICK_MS", 50)
	return time.Duration(ms) * time.Millisecond
}

// GetSettleTicks возвращает задержку между созданием мира и регистрацией
func (s *SchedulerConfig) GetSettleTicks() int {
	return getIntWithEnvFallback(s.SettleTicks, "WORLDTPL_SETTLE_TICKS", 20)
}

// GetWorkers возвращает размер пула для файловых операций
func (s *SchedulerConfig) GetWorkers() int {
	return getIntWithEnvFallback(s.Workers, "WORLDTPL_WORKERS", 4)
}

// GetBackend возвращает тип реестра миров
func (r *RegistryConfig) GetBackend() string {
	return getStringWithEnvFallback(r.Backend, "WORLDTPL_REGISTRY", "memory")
}

// GetPath возвращает путь к базе реестра
func (r *RegistryConfig) GetPath() string {
	return getStringWithEnvFallback(r.Path, "WORLDTPL_REGISTRY_PATH", "data")
}

// GetDSN возвращает адрес сервера реестра
func (r *RegistryConfig) GetDSN() string {
	return getStringWithEnvFallback(r.DSN, "WORLDTPL_REGISTRY_DSN", "")
}

// GetRetention возвращает время хранения событий в JetStream
func (e *EventBusConfig) GetRetention() time.Duration {
	hours := getIntWithEnvFallback(e.Retention, "WORLDTPL_EVENTS_RETENTION_HOURS", 24)
	return time.Duration(hours) * time.Hour
}

// GetURL возвращает адрес NATS; пустая строка означает in-memory шину
func (e *EventBusConfig) GetURL() string {
	return getStringWithEnvFallback(e.URL, "WORLDTPL_NATS_URL", "")
}

// GetAddr возвращает адрес REST API
func (a *APIConfig) GetAddr() string {
	return getStringWithEnvFallback(a.Addr, "WORLDTPL_API_ADDR", "")
}

// GetJWTSecret возвращает ключ подписи токенов операторов
func (a *APIConfig) GetJWTSecret() string {
	return getStringWithEnvFallback(a.JWTSecret, "WORLDTPL_JWT_SECRET", "")
}

// GetTokenTTL возвращает срок жизни выпускаемых токенов
func (a *APIConfig) GetTokenTTL() time.Duration {
	hours := getIntWithEnvFallback(a.TokenTTL, "WORLDTPL_TOKEN_TTL_HOURS", 24)
	return time.Duration(hours) * time.Hour
}

// GetServiceName возвращает имя сервиса для трейсинга
func (t *TelemetryConfig) GetServiceName() string {
	return getStringWithEnvFallback(t.ServiceName, "OTEL_SERVICE_NAME", "world-templates")
}

// GetMinFreeBytes возвращает требуемый запас свободного места
func (p *PreflightConfig) GetMinFreeBytes() uint64 {
	mb := getIntWithEnvFallback(p.MinFreeMB, "WORLDTPL_MIN_FREE_MB", 0)
	return uint64(mb) * 1024 * 1024
}

// getIntWithEnvFallback возвращает значение с приоритетом: config -> env -> default
func getIntWithEnvFallback(configValue int, envVar string, defaultValue int) int {
	if configValue > 0 {
		return configValue
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			return v
		}
	}

	return defaultValue
}

func getStringWithEnvFallback(configValue, envVar, defaultValue string) string {
	if configValue != "" {
		return configValue
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return defaultValue
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV WORLDTPL_CONFIG или возвращает пустой Config
// (все значения берутся из env и дефолтов).
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("WORLDTPL_CONFIG")
		if path == "" {
			return &Config{}, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
