package service

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/pkg/textutil"
)

// renameFile 测试中替换以模拟单个文件移动失败
var renameFile = os.Rename

// migrateLegacyTree 启动时把旧版 <groupsDir>/<gid>/<dirName>/<任务>/ 迁到 <archiveRoot>/<gid>/<任务>/
// 目标已存在时递归合并，同名文件改名为 <stem>_legacy<i><ext>，从不覆盖
func migrateLegacyTree(groupsDir, dirName, archiveRoot string, logger *zap.Logger) {
	groups, err := os.ReadDir(groupsDir)
	if err != nil {
		return
	}

	moved := 0
	for _, g := range groups {
		if !g.IsDir() {
			continue
		}
		legacy := filepath.Join(groupsDir, g.Name(), dirName)
		tasks, err := os.ReadDir(legacy)
		if err != nil {
			continue
		}
		for _, td := range tasks {
			if !td.IsDir() {
				continue
			}
			src := filepath.Join(legacy, td.Name())
			dst := filepath.Join(archiveRoot, g.Name(), td.Name())
			if err := moveOrMergeDir(src, dst, logger); err != nil {
				logger.Warn("迁移旧版归档失败", zap.String("src", src), zap.Error(err))
				continue
			}
			moved++
		}
		// 空目录才能删掉，非空说明还有未迁移内容
		_ = os.Remove(legacy)
	}

	if moved > 0 {
		logger.Info("旧版归档已迁移", zap.Int("tasks", moved), zap.String("to", archiveRoot))
	}
}

func moveOrMergeDir(src, dst string, logger *zap.Logger) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(dst); os.IsNotExist(err) {
		return os.Rename(src, dst)
	}
	failed, err := mergeDir(src, dst, logger)
	if err != nil {
		return err
	}
	if failed > 0 {
		// 有文件没迁走，保留源目录等下次启动重试
		return fmt.Errorf("%d 个文件迁移失败，源目录已保留", failed)
	}
	return os.RemoveAll(src)
}

// mergeDir 逐个移动 src 下的文件到 dst，返回移动失败的文件数
func mergeDir(src, dst string, logger *zap.Logger) (int, error) {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return 0, err
	}
	items, err := os.ReadDir(src)
	if err != nil {
		return 0, err
	}
	failed := 0
	for _, it := range items {
		from := filepath.Join(src, it.Name())
		to := filepath.Join(dst, it.Name())
		if it.IsDir() {
			n, err := mergeDir(from, to, logger)
			if err != nil {
				return failed, err
			}
			failed += n
			_ = os.Remove(from)
			continue
		}
		if _, err := os.Stat(to); err == nil {
			to = legacyAltPath(dst, it.Name())
		}
		if err := renameFile(from, to); err != nil {
			failed++
			logger.Warn("迁移旧版文件失败", zap.String("src", from), zap.String("dst", to), zap.Error(err))
		}
	}
	return failed, nil
}

func legacyAltPath(dir, name string) string {
	stem, ext := textutil.SplitExt(name)
	for i := 1; i < 999; i++ {
		alt := filepath.Join(dir, fmt.Sprintf("%s_legacy%d%s", stem, i, ext))
		if !exists(alt) {
			return alt
		}
	}
	return filepath.Join(dir, name)
}
