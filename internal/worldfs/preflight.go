package worldfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// ErrInsufficientSpace возвращается, когда на целевом разделе не хватает места
var ErrInsufficientSpace = errors.New("insufficient free space")

// TreeSize считает объём файлов под root без учёта исключений
func TreeSize(ctx context.Context, root string, excl ExclusionSet) (int64, error) {
	if excl == nil {
		excl = DefaultExclusions()
	}

	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || excl.Contains(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// FreeSpace возвращает свободное место на разделе, где окажется target.
// target может ещё не существовать: берётся ближайший существующий предок.
func FreeSpace(target string) (uint64, error) {
	dir, err := existingAncestor(target)
	if err != nil {
		return 0, err
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, fmt.Errorf("disk usage %s: %w", dir, err)
	}
	return usage.Free, nil
}

// CheckFreeSpace проверяет, что после записи need байт в target останется reserve байт.
func CheckFreeSpace(target string, need, reserve uint64) error {
	free, err := FreeSpace(target)
	if err != nil {
		return err
	}
	if free < need+reserve {
		return fmt.Errorf("%w: %s: нужно %d байт (+%d резерв), свободно %d",
			ErrInsufficientSpace, target, need, reserve, free)
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(abs); err == nil {
			return abs, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		abs = parent
	}
}
