package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
templates:
  root: /srv/templates
  exclude: [paper-world.yml]
worlds:
  container: /srv/worlds
scheduler:
  tick_interval_ms: 10
  settle_ticks: 2
registry:
  backend: badger
  path: /srv/data
api:
  addr: 127.0.0.1:8088
  token_ttl_hours: 2
logging:
  level: warn
  components:
    worldfs: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/templates", cfg.Templates.GetTemplateRoot())
	assert.Equal(t, []string{"paper-world.yml"}, cfg.Templates.Exclude)
	assert.Equal(t, "/srv/worlds", cfg.Worlds.GetContainer())
	assert.Equal(t, 10*time.Millisecond, cfg.Scheduler.GetTickInterval())
	assert.Equal(t, 2, cfg.Scheduler.GetSettleTicks())
	assert.Equal(t, "badger", cfg.Registry.GetBackend())
	assert.Equal(t, "127.0.0.1:8088", cfg.API.GetAddr())
	assert.Equal(t, 2*time.Hour, cfg.API.GetTokenTTL())
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, map[string]string{"worldfs": "debug"}, cfg.Logging.Components)
}

func TestDefaultsAndEnvFallback(t *testing.T) {
	t.Setenv("WORLDTPL_CONFIG", "")
	t.Setenv("WORLDTPL_SETTLE_TICKS", "7")
	t.Setenv("WORLDTPL_WORKERS", "не число")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "templates", cfg.Templates.GetTemplateRoot())
	assert.Equal(t, 50*time.Millisecond, cfg.Scheduler.GetTickInterval())
	assert.Equal(t, 7, cfg.Scheduler.GetSettleTicks())
	assert.Equal(t, 4, cfg.Scheduler.GetWorkers(), "некорректное значение env игнорируется")
	assert.Equal(t, "memory", cfg.Registry.GetBackend())
	assert.Equal(t, uint64(0), cfg.Preflight.GetMinFreeBytes())
	assert.Empty(t, cfg.API.GetAddr(), "REST API выключен по умолчанию")
	assert.Equal(t, 24*time.Hour, cfg.API.GetTokenTTL())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "нет.yaml"))
	assert.Error(t, err)
}
