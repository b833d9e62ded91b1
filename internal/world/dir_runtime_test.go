package world

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirRuntimeInstantiate(t *testing.T) {
	container := t.TempDir()
	rt, err := NewDirRuntime(container)
	require.NoError(t, err)

	dir := filepath.Join(container, "alpha")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, LevelFile), []byte("level"), 0644))

	_, ok := rt.FindWorld("alpha")
	assert.False(t, ok, "мир не загружен до InstantiateWorld")

	h, err := rt.InstantiateWorld(context.Background(), "alpha")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "alpha", h.Name)
	assert.Equal(t, dir, h.Dir)
	assert.Equal(t, EnvironmentNormal, h.Environment)
	assert.FileExists(t, filepath.Join(dir, SessionLockFile))
	assert.True(t, rt.IsReady(*h))

	uid, err := os.ReadFile(filepath.Join(dir, UIDFile))
	require.NoError(t, err)
	assert.Equal(t, h.ID[:], uid)

	found, ok := rt.FindWorld("alpha")
	require.True(t, ok)
	assert.Equal(t, h.ID, found.ID)

	// Повторная загрузка возвращает тот же мир
	again, err := rt.InstantiateWorld(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, h.ID, again.ID)
}

func TestDirRuntimeMissingDirYieldsNil(t *testing.T) {
	rt, err := NewDirRuntime(t.TempDir())
	require.NoError(t, err)

	h, err := rt.InstantiateWorld(context.Background(), "нет")
	assert.NoError(t, err)
	assert.Nil(t, h)
}

func TestDirRuntimeKeepsExistingUID(t *testing.T) {
	container := t.TempDir()
	rt, err := NewDirRuntime(container)
	require.NoError(t, err)

	first, err := NewDirRuntime(container)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(container, "beta"), 0755))
	h1, err := first.InstantiateWorld(context.Background(), "beta")
	require.NoError(t, err)

	h2, err := rt.InstantiateWorld(context.Background(), "beta")
	require.NoError(t, err)
	assert.Equal(t, h1.ID, h2.ID, "uid.dat уже существует и должен быть прочитан")
}

func TestDirRuntimeDiscoverAndUnload(t *testing.T) {
	container := t.TempDir()
	for _, name := range []string{"alpha", "beta"} {
		dir := filepath.Join(container, name)
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, LevelFile), []byte(name), 0644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(container, "not-a-world"), 0755))

	rt, err := NewDirRuntime(container)
	require.NoError(t, err)

	n, err := rt.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	worlds := rt.Worlds()
	require.Len(t, worlds, 2)
	assert.Equal(t, "alpha", worlds[0].Name)
	assert.Equal(t, "beta", worlds[1].Name)

	assert.True(t, rt.Unload("alpha"))
	assert.False(t, rt.Unload("alpha"))
	assert.NoFileExists(t, filepath.Join(container, "alpha", SessionLockFile))
	_, ok := rt.FindWorld("alpha")
	assert.False(t, ok)
}

func TestNewRecordDefaults(t *testing.T) {
	h := Handle{Name: "alpha", Dir: "/w/alpha", Environment: EnvironmentNether}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rec := NewRecord(h, RegisterOptions{}, now)
	assert.Equal(t, EnvironmentNether, rec.Environment, "окружение берётся из описателя")
	assert.Empty(t, rec.Generator)
	assert.Nil(t, rec.Seed)
	assert.Equal(t, now, rec.RegisteredAt)

	rec = NewRecord(h, RegisterOptions{Environment: EnvironmentEnd}, now)
	assert.Equal(t, EnvironmentEnd, rec.Environment)
}
