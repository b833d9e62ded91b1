package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/annel0/world-templates/internal/observability"
	"github.com/annel0/world-templates/internal/scheduler"
	"github.com/annel0/world-templates/internal/storage"
	"github.com/annel0/world-templates/internal/template"
	"github.com/annel0/world-templates/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestDirRuntimeRoundTrip прогоняет полный цикл на каталоговом рантайме и badger-реестре
func TestDirRuntimeRoundTrip(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)
	spans := tracetest.NewInMemoryExporter()
	shutdown, err := observability.InitWithExporter(context.Background(), "world-templates-test", spans)
	require.NoError(t, err)
	defer shutdown(context.Background())

	base := t.TempDir()
	container := filepath.Join(base, "worlds")
	writeTree(t, filepath.Join(container, "alpha"), alphaFiles)

	rt, err := world.NewDirRuntime(container)
	require.NoError(t, err)
	n, err := rt.Discover(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	reg, err := storage.NewInMemoryBadgerRegistry()
	require.NoError(t, err)
	defer reg.Close()

	main := scheduler.NewMainThread(time.Millisecond)
	main.Start()
	defer main.Stop()
	pool := scheduler.NewPool(2)
	defer pool.Stop()

	o, err := New(Config{
		Store:      template.NewStore(filepath.Join(base, "templates")),
		Runtime:    rt,
		Registry:   reg,
		MainThread: main,
		Pool:       pool,
		Settle:     ReadinessPoll{Thread: main, Checker: rt, MaxTicks: 10},
	})
	require.NoError(t, err)

	ctx := wait(t)
	ok, err := o.CreateTemplateFromWorld(ctx, "alpha", "alpha").Wait(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	// session.lock и uid.dat исходного мира в шаблон не попадают
	assert.Equal(t, []string{"level.dat", "region/r.0.0.mca"}, listFiles(t, filepath.Join(base, "templates", "alpha")))

	h, err := o.LoadTemplate(ctx, "alpha", "alpha_copy").Wait(ctx)
	require.NoError(t, err)

	src, found := rt.FindWorld("alpha")
	require.True(t, found)
	assert.NotEqual(t, src.ID, h.ID, "копия получает собственный uid")

	rec, found, err := reg.Lookup(ctx, "alpha_copy")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, h.ID, rec.ID)
	assert.Equal(t, h.Dir, rec.Dir)

	_, err = os.Stat(filepath.Join(container, "alpha_copy", world.SessionLockFile))
	assert.NoError(t, err)

	ok, err = o.DeleteTemplate(ctx, "alpha").Wait(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	names := map[string]bool{}
	for _, s := range spans.GetSpans() {
		names[s.Name] = true
	}
	assert.True(t, names["template.create"])
	assert.True(t, names["template.load"])
	assert.True(t, names["template.delete"])
}
