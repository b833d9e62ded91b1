package template

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/annel0/world-templates/internal/worldfs"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreResolve(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	path, err := s.Resolve("alpha")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "alpha"), path)

	// Смена корня влияет на следующие вызовы
	other := t.TempDir()
	s.SetRoot(other)
	path, err = s.Resolve("alpha")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(other, "alpha"), path)
}

func TestStoreUnsetRoot(t *testing.T) {
	s := NewStore("")

	_, err := s.Resolve("alpha")
	assert.ErrorIs(t, err, ErrTemplateRootUnset)

	_, err = s.Exists("alpha")
	assert.ErrorIs(t, err, ErrTemplateRootUnset)

	_, err = s.List()
	assert.ErrorIs(t, err, ErrTemplateRootUnset)
}

func TestStoreInvalidNames(t *testing.T) {
	s := NewStore(t.TempDir())
	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "../escape"} {
		_, err := s.Resolve(name)
		assert.ErrorIs(t, err, ErrInvalidName, "имя %q должно быть отклонено", name)
	}
}

func TestStoreExistsAndList(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	ok, err := s.Exists("alpha")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "beta"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "alpha"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644))

	ok, err = s.Exists("alpha")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists("notes.txt")
	require.NoError(t, err)
	assert.False(t, ok, "обычный файл не является шаблоном")

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)

	s.SetRoot(filepath.Join(root, "missing"))
	names, err = s.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestArchiveRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	files := map[string]string{
		"alpha/level.dat":        "level",
		"alpha/region/r.0.0.mca": "region-bytes",
		"alpha/session.lock":     "lock",
		"alpha/DIM1/uid.dat":     "uid",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	var buf bytes.Buffer
	require.NoError(t, s.Export(context.Background(), "alpha", &buf, nil))
	require.NoError(t, s.Import(context.Background(), &buf, "restored", nil))

	level, err := os.ReadFile(filepath.Join(root, "restored", "level.dat"))
	require.NoError(t, err)
	assert.Equal(t, "level", string(level))

	region, err := os.ReadFile(filepath.Join(root, "restored", "region", "r.0.0.mca"))
	require.NoError(t, err)
	assert.Equal(t, "region-bytes", string(region))

	assert.NoFileExists(t, filepath.Join(root, "restored", "session.lock"))
	assert.NoFileExists(t, filepath.Join(root, "restored", "DIM1", "uid.dat"))
	assert.DirExists(t, filepath.Join(root, "restored", "DIM1"))
}

// archiveEntry запись тестового архива: файл с содержимым или ссылка
type archiveEntry struct {
	name    string
	content string
	link    string
}

func buildArchive(t *testing.T, entries ...archiveEntry) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(zw)
	for _, e := range entries {
		if e.link != "" {
			require.NoError(t, tw.WriteHeader(&tar.Header{Name: e.name, Linkname: e.link, Mode: 0777, Typeflag: tar.TypeSymlink}))
			continue
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.content)), Typeflag: tar.TypeReg}))
		_, err = tw.Write([]byte(e.content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	return &buf
}

func TestImportRejectsEscapingEntries(t *testing.T) {
	root := t.TempDir()
	s := NewStore(filepath.Join(root, "templates"))
	err := s.Import(context.Background(), buildArchive(t, archiveEntry{name: "../evil.txt", content: "x"}), "victim", nil)
	assert.ErrorIs(t, err, ErrUnsafeArchive)
	assert.NoFileExists(t, filepath.Join(root, "templates", "evil.txt"))
}

// TestImportRejectsSymlinkEscape ссылка наружу и запись через неё не выходят за шаблон
func TestImportRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(root, "outside")
	require.NoError(t, os.MkdirAll(outside, 0755))
	s := NewStore(filepath.Join(root, "templates"))

	tests := []struct {
		name    string
		entries []archiveEntry
	}{
		{"absolute link", []archiveEntry{
			{name: "evil", link: outside},
			{name: "evil/owned.txt", content: "pwned"},
		}},
		{"relative link", []archiveEntry{
			{name: "evil", link: "../../outside"},
			{name: "evil/owned.txt", content: "pwned"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Import(context.Background(), buildArchive(t, tt.entries...), "victim", nil)
			assert.ErrorIs(t, err, ErrUnsafeArchive)
			assert.NoFileExists(t, filepath.Join(outside, "owned.txt"))
		})
	}

	t.Run("existing link in template", func(t *testing.T) {
		dir := filepath.Join(root, "templates", "planted")
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.Symlink(outside, filepath.Join(dir, "evil")))

		err := s.Import(context.Background(), buildArchive(t, archiveEntry{name: "evil/owned.txt", content: "pwned"}), "planted", nil)
		assert.ErrorIs(t, err, ErrUnsafeArchive)
		assert.NoFileExists(t, filepath.Join(outside, "owned.txt"))
	})
}

func TestImportKeepsInternalLinksAndSkipsExclusions(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	archive := buildArchive(t,
		archiveEntry{name: "level.dat", content: "level"},
		archiveEntry{name: "level.link", link: "level.dat"},
		archiveEntry{name: "session.lock", content: "lock"},
		archiveEntry{name: "DIM1/uid.dat", content: "uid"},
		archiveEntry{name: "extra.yml", content: "cfg"},
	)
	require.NoError(t, s.Import(context.Background(), archive, "foreign", worldfs.NewExclusionSet("extra.yml")))

	data, err := os.ReadFile(filepath.Join(root, "foreign", "level.link"))
	require.NoError(t, err)
	assert.Equal(t, "level", string(data))
	assert.NoFileExists(t, filepath.Join(root, "foreign", "session.lock"))
	assert.NoFileExists(t, filepath.Join(root, "foreign", "DIM1", "uid.dat"))
	assert.NoFileExists(t, filepath.Join(root, "foreign", "extra.yml"))
}
