package template

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/annel0/world-templates/internal/worldfs"
	"github.com/klauspost/compress/zstd"
)

// ErrUnsafeArchive архив содержит путь за пределами каталога шаблона
var ErrUnsafeArchive = errors.New("archive entry escapes template directory")

// Export пишет шаблон name в w как tar, сжатый zstd.
// Файлы из excl (nil означает обязательные исключения) в архив не попадают.
func (s *Store) Export(ctx context.Context, name string, w io.Writer, excl worldfs.ExclusionSet) error {
	dir, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if excl == nil {
		excl = worldfs.DefaultExclusions()
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if !d.IsDir() && excl.Contains(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if d.Type()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		} else if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("export template %q: %w", name, err)
	}

	if err := tw.Close(); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// Import распаковывает архив из Export в шаблон name.
// Существующие файлы с теми же путями перезаписываются, файлы из excl
// (nil означает обязательные исключения) пропускаются.
// Записи, выходящие за каталог шаблона напрямую или через символьную ссылку,
// прерывают импорт с ErrUnsafeArchive.
func (s *Store) Import(ctx context.Context, r io.Reader, name string, excl worldfs.ExclusionSet) error {
	dir, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if excl == nil {
		excl = worldfs.DefaultExclusions()
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tr := tar.NewReader(zr)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("import template %q: %w", name, err)
		}

		target, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeDir && excl.Contains(filepath.Base(target)) {
			continue
		}
		if err := checkParents(dir, target); err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()|0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := checkLink(dir, target, hdr.Linkname); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}

func writeEntry(r io.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func safeJoin(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || escapes(clean) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeArchive, name)
	}
	return filepath.Join(dir, clean), nil
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// checkParents запрещает запись через символьную ссылку: ни один каталог
// между dir и target не может быть ссылкой
func checkParents(dir, target string) error {
	rel, err := filepath.Rel(dir, filepath.Dir(target))
	if err != nil {
		return err
	}
	if rel == "." {
		return nil
	}

	cur := dir
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s проходит через ссылку %s", ErrUnsafeArchive, target, cur)
		}
	}
	return nil
}

// checkLink допускает только относительные ссылки, остающиеся внутри dir
func checkLink(dir, target, link string) error {
	if filepath.IsAbs(link) {
		return fmt.Errorf("%w: ссылка %s -> %s", ErrUnsafeArchive, target, link)
	}
	rel, err := filepath.Rel(dir, filepath.Join(filepath.Dir(target), link))
	if err != nil || escapes(rel) {
		return fmt.Errorf("%w: ссылка %s -> %s", ErrUnsafeArchive, target, link)
	}
	return nil
}
