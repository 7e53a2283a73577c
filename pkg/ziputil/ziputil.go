package ziputil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
)

// Entry 待打包的单个文件：Path 为本地路径，Name 为包内文件名
type Entry struct {
	Path string
	Name string
}

// WriteArchive 将 entries 打包为 out，返回实际写入数量与缺失的源文件
// 源文件不存在时跳过并记入 missing；一个也没写入时删除 out 并返回 packed=0
func WriteArchive(out string, entries []Entry) (packed int, missing []string, err error) {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return 0, nil, fmt.Errorf("创建压缩包目录失败: %w", err)
	}

	f, err := os.Create(out)
	if err != nil {
		return 0, nil, fmt.Errorf("创建压缩包失败: %w", err)
	}

	zw := zip.NewWriter(f)
	for _, e := range entries {
		ok, werr := addFile(zw, e)
		if werr != nil {
			_ = zw.Close()
			_ = f.Close()
			_ = os.Remove(out)
			return 0, nil, werr
		}
		if !ok {
			missing = append(missing, e.Path)
			continue
		}
		packed++
	}

	if err := zw.Close(); err != nil {
		_ = f.Close()
		_ = os.Remove(out)
		return 0, nil, fmt.Errorf("写入压缩包失败: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(out)
		return 0, nil, fmt.Errorf("关闭压缩包失败: %w", err)
	}

	if packed == 0 {
		_ = os.Remove(out)
	}
	return packed, missing, nil
}

func addFile(zw *zip.Writer, e Entry) (bool, error) {
	src, err := os.Open(e.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("读取 %s 失败: %w", e.Path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil || info.IsDir() {
		return false, nil
	}

	name := e.Name
	if name == "" {
		name = filepath.Base(e.Path)
	}
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: info.ModTime().In(time.Local),
	})
	if err != nil {
		return false, fmt.Errorf("写入 %s 失败: %w", name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return false, fmt.Errorf("写入 %s 失败: %w", name, err)
	}
	return true, nil
}
