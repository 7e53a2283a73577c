package roster

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Cooper3516833584/Cooper-bot/pkg/textutil"
)

// ── 文件名识别规则 ──

// blacklist 含有这些片段的候选词不可能是姓名（课程、院系、文体等）
var blacklist = []string{
	"电气", "学院", "工程", "班", "专业",
	"报告", "读书", "作业", "论文", "马原",
	"课", "阅读", "历史", "自由", "之间",
	"政治", "经济", "序言", "导言", "经典", "思想",
}

// structuralWords 姓名常紧贴在这些词之前，如 "张三电气2401"
var structuralWords = []string{"电气", "学院", "工程", "班", "专业"}

var separators = []string{"-", "_", "——", "—", "–", ";", "，", ",", " "}

var (
	reStudentID = regexp.MustCompile(`[Uu]\d{8,12}`)
	reNumber    = regexp.MustCompile(`[Uu]?\d{4,}`)
	reLatin     = regexp.MustCompile(`[A-Za-z]`)
	reHanRun    = regexp.MustCompile(`[\x{4e00}-\x{9fff}]+`)
	reHanName   = regexp.MustCompile(`^[\x{4e00}-\x{9fff}]{2,3}$`)
	reHanOnly   = regexp.MustCompile(`^[\x{4e00}-\x{9fff}]+$`)
	reSpaces    = regexp.MustCompile(`\s+`)
)

// stem 去掉扩展名后的文件名
func stem(filename string) string {
	s, _ := textutil.SplitExt(baseName(filename))
	return s
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

// cleanFilename 把分隔符、长数字串与英文字母替换为空格，只留下候选中文片段
func cleanFilename(filename string) string {
	s := stem(filename)
	for _, sep := range separators {
		s = strings.ReplaceAll(s, sep, " ")
	}
	s = reNumber.ReplaceAllString(s, " ")
	s = reLatin.ReplaceAllString(s, " ")
	return s
}

// LooksLikeName 2~3 个汉字且不含黑名单片段
func LooksLikeName(token string) bool {
	if !reHanName.MatchString(token) {
		return false
	}
	for _, bad := range blacklist {
		if strings.Contains(token, bad) {
			return false
		}
	}
	return true
}

// ExtractName 从文件名猜测提交者姓名，识别不到返回空串
//
// 依次尝试：
//  1. 按分隔符切词后从右往左找第一个像姓名的词（姓名通常写在最后）
//  2. 纯汉字词中，取结构词（班、学院等）之前的前缀
//  3. 对连续汉字做 3/2 字滑窗，取最后一个候选
func ExtractName(filename string) string {
	part := cleanFilename(filename)
	tokens := strings.Fields(part)

	for i := len(tokens) - 1; i >= 0; i-- {
		if LooksLikeName(tokens[i]) {
			return tokens[i]
		}
	}

	for _, tok := range tokens {
		if !reHanOnly.MatchString(tok) {
			continue
		}
		for _, sw := range structuralWords {
			byteIdx := strings.Index(tok, sw)
			if byteIdx < 0 {
				continue
			}
			// 前缀至少两个字
			if utf8.RuneCountInString(tok[:byteIdx]) >= 2 {
				prefix := tok[:byteIdx]
				if LooksLikeName(prefix) {
					return prefix
				}
			}
		}
	}

	var last string
	for _, chunk := range reHanRun.FindAllString(part, -1) {
		r := []rune(chunk)
		for _, n := range []int{3, 2} {
			for i := 0; i+n <= len(r); i++ {
				if sub := string(r[i : i+n]); LooksLikeName(sub) {
					last = sub
				}
			}
		}
	}
	return last
}

// ExtractStudentID 提取形如 U202412345 的学号（统一大写），没有则返回空串
func ExtractStudentID(filename string) string {
	m := reStudentID.FindString(filename)
	return strings.ToUpper(m)
}

// FindNameInFilename 在文件名中查找名册姓名
// names 应按长度降序排列，避免 "张三" 抢先匹配 "张三丰"
func FindNameInFilename(filename string, names []string) string {
	if filename == "" {
		return ""
	}
	s := stem(filename)
	compact := reSpaces.ReplaceAllString(s, "")
	for _, nm := range names {
		if nm == "" {
			continue
		}
		if strings.Contains(s, nm) || strings.Contains(compact, nm) {
			return nm
		}
	}
	return ""
}
