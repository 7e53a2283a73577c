package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var nonASCIIName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// foldChain NFKD 分解后去掉组合附加符号（é → e）
func foldChain() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// ASCIIStem 将文件名主干折叠为传输安全的 ASCII 片段
// 非 [A-Za-z0-9._-] 的字符替换为 _，去掉首尾 ._-，为空时返回 "file"，最长 max 字节
func ASCIIStem(s string, max int) string {
	folded, _, err := transform.String(foldChain(), s)
	if err != nil {
		folded = s
	}
	out := nonASCIIName.ReplaceAllString(folded, "_")
	out = strings.Trim(out, "._-")
	if out == "" {
		out = "file"
	}
	if max > 0 && len(out) > max {
		out = strings.TrimRight(out[:max], "._-")
		if out == "" {
			out = "file"
		}
	}
	return out
}

// ASCIIFilename 折叠完整文件名：主干走 ASCIIStem，扩展名仅保留 ASCII 字符
func ASCIIFilename(name string, maxStem int) string {
	stem, ext := SplitExt(name)
	ext = nonASCIIName.ReplaceAllString(ext, "")
	if ext == "." {
		ext = ""
	}
	return ASCIIStem(stem, maxStem) + ext
}

// NormalizeDigits 将全角数字、字母转为半角并去掉首尾空白，用于解析用户回复
func NormalizeDigits(s string) string {
	return strings.TrimSpace(width.Narrow.String(s))
}

// IsDigits 判断字符串是否全部为 ASCII 数字（空串返回 false）
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SplitExt 拆分主干与扩展名；以点开头且无其他点的名字（.bashrc）视为无扩展名
func SplitExt(name string) (stem, ext string) {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i:]
}

// TruncateRunes 按 rune 截断，避免切坏多字节字符
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
