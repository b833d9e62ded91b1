package worldfs

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
)

// DeleteTree удаляет каталог path целиком.
//
// Файлы удаляются по мере обхода, каталоги на обратном пути, от самых глубоких
// к корню. Исключения здесь не действуют. Первая ошибка прерывает удаление,
// логируется и возвращается вместе с false; частичное удаление возможно.
// Несуществующий path считается ошибкой.
func DeleteTree(ctx context.Context, path string, opts Options) (bool, error) {
	log := opts.logger()

	// Порядок прямого обхода: родитель всегда раньше детей
	var dirs []string
	files := 0

	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			dirs = append(dirs, p)
			return nil
		}

		if err := os.Remove(p); err != nil {
			return err
		}
		files++
		return nil
	})

	if err == nil {
		for i := len(dirs) - 1; i >= 0; i-- {
			if err = os.Remove(dirs[i]); err != nil {
				break
			}
		}
	}

	if err != nil {
		log.Error("❌ Ошибка удаления каталога %s: %v", path, err)
		return false, err
	}

	log.Debug("Удалён %s: файлов=%d каталогов=%d", path, files, len(dirs))
	return true, nil
}
