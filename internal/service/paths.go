package service

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Cooper3516833584/Cooper-bot/pkg/textutil"
)

const (
	maxComponentLen = 80
	maxFilenameLen  = 120
	filesDirName    = "files"
)

var (
	reIllegalPathChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	reWhitespaceRun    = regexp.MustCompile(`\s+`)
)

// SafeComponent 把任意字符串变成可用作单级目录/文件名的片段
// 非法字符替换为 _，空白折叠为单个空格，去掉末尾的空格和点，空串变为 _，按字符截断
func SafeComponent(s string, max int) string {
	s = strings.TrimSpace(s)
	s = reIllegalPathChars.ReplaceAllString(s, "_")
	s = strings.TrimSpace(reWhitespaceRun.ReplaceAllString(s, " "))
	s = strings.TrimRight(s, " .")
	if s == "" {
		return "_"
	}
	if max > 0 {
		if cut := textutil.TruncateRunes(s, max); cut != s {
			s = strings.TrimRight(cut, " .")
			if s == "" {
				s = "_"
			}
		}
	}
	return s
}

// UniquePath 在 dir 下为 filename 找一个不存在的路径：name、name_2 … name_998，全部占用时追加时间戳
func UniquePath(dir, filename string) string {
	filename = SafeComponent(filename, maxFilenameLen)
	p := filepath.Join(dir, filename)
	if !exists(p) {
		return p
	}
	stem, ext := textutil.SplitExt(filename)
	for i := 2; i < 999; i++ {
		alt := filepath.Join(dir, stem+"_"+strconv.Itoa(i)+ext)
		if !exists(alt) {
			return alt
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, time.Now().Unix(), ext))
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// taskDir <archiveRoot>/<gid>/<任务名>
func taskDir(root string, groupID int64, name string) string {
	return filepath.Join(root, strconv.FormatInt(groupID, 10), SafeComponent(name, maxComponentLen))
}

// taskFilesDir <archiveRoot>/<gid>/<任务名>/files
func taskFilesDir(root string, groupID int64, name string) string {
	return filepath.Join(taskDir(root, groupID, name), filesDirName)
}

// PrettyTime 统一的展示格式
func PrettyTime(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("2006-01-02 15:04")
}
