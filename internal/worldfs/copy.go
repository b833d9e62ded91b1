package worldfs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/annel0/world-templates/internal/logging"
)

// CopyStats счётчики одного копирования
type CopyStats struct {
	Dirs    int   // Созданные (или уже существовавшие) каталоги
	Files   int   // Скопированные файлы
	Links   int   // Воссозданные символические ссылки
	Skipped int   // Файлы из множества исключений
	Bytes   int64 // Объём скопированных данных
}

// Options параметры копирования и удаления. Нулевое значение валидно.
type Options struct {
	Exclusions ExclusionSet    // nil означает DefaultExclusions()
	Logger     *logging.Logger // nil означает логгер компонента worldfs
	Stats      *CopyStats      // Заполняется, если не nil
}

func (o Options) exclusions() ExclusionSet {
	if o.Exclusions == nil {
		return DefaultExclusions()
	}
	return o.Exclusions
}

func (o Options) logger() *logging.Logger {
	if o.Logger == nil {
		return logging.GetFSLogger()
	}
	return o.Logger
}

// CopyTree рекурсивно копирует source в target.
//
// Каталоги создаются в прямом порядке обхода (корень первым, повторное создание не ошибка).
// Файлы из множества исключений пропускаются, остальные перезаписывают файл по тому же
// относительному пути в target. Отсутствие source не считается ошибкой: пишется
// предупреждение и возвращается false, nil.
//
// Любая ошибка ввода-вывода прерывает обход, логируется и возвращается вместе с false.
// Частично заполненный target не откатывается.
func CopyTree(ctx context.Context, source, target string, opts Options) (bool, error) {
	log := opts.logger()
	excl := opts.exclusions()

	info, err := os.Stat(source)
	if os.IsNotExist(err) {
		log.Warn("⚠️ Исходный каталог не найден: %s", source)
		return false, nil
	}
	if err != nil {
		log.Error("❌ Ошибка дублирования каталога %s -> %s: %v", source, target, err)
		return false, err
	}
	if !info.IsDir() {
		err := fmt.Errorf("%s не является каталогом", source)
		log.Error("❌ Ошибка дублирования каталога %s -> %s: %v", source, target, err)
		return false, err
	}

	var stats CopyStats
	err = filepath.WalkDir(source, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(target, rel)

		switch {
		case d.IsDir():
			if err := os.MkdirAll(dst, dirMode(d)); err != nil {
				return err
			}
			stats.Dirs++
			return nil

		case excl.Contains(d.Name()):
			log.Trace("Пропуск исключённого файла %s", path)
			stats.Skipped++
			return nil

		case d.Type()&fs.ModeSymlink != 0:
			if err := copySymlink(path, dst); err != nil {
				return err
			}
			stats.Links++
			return nil

		case !d.Type().IsRegular():
			log.Warn("⚠️ Пропуск специального файла %s (%s)", path, d.Type())
			return nil
		}

		n, err := copyFile(path, dst)
		if err != nil {
			return err
		}
		stats.Files++
		stats.Bytes += n
		return nil
	})

	if opts.Stats != nil {
		*opts.Stats = stats
	}

	if err != nil {
		log.Error("❌ Ошибка дублирования каталога %s -> %s: %v", source, target, err)
		return false, err
	}

	log.Debug("Скопирован %s -> %s: каталогов=%d файлов=%d пропущено=%d байт=%d",
		source, target, stats.Dirs, stats.Files, stats.Skipped, stats.Bytes)
	return true, nil
}

// copyFile заменяет dst содержимым src с сохранением прав доступа
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}

	// Семантика замены: старый файл (или ссылка) по этому пути удаляется целиком
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return 0, err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, err
	}
	if err := out.Close(); err != nil {
		return n, err
	}

	return n, os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// copySymlink воссоздаёт ссылку с тем же содержимым
func copySymlink(src, dst string) error {
	link, err := os.Readlink(src)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Symlink(link, dst)
}

func dirMode(d fs.DirEntry) fs.FileMode {
	info, err := d.Info()
	if err != nil {
		return 0755
	}
	// Каталог должен оставаться доступным на запись, иначе в него нельзя скопировать файлы
	return info.Mode().Perm() | 0700
}
