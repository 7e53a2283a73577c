package roster

import (
	"os"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Cache 名册缓存：文件修改时间变化时自动重新加载
type Cache struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	mtime   time.Time
	loaded  bool
	entries []Entry
	names   []string
}

// NewCache 创建名册缓存
func NewCache(path string, logger *zap.Logger) *Cache {
	return &Cache{path: path, logger: logger}
}

// Path 名册文件路径
func (c *Cache) Path() string { return c.path }

// Entries 返回名册副本；文件不存在或解析失败时返回空
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	return append([]Entry(nil), c.entries...)
}

// Names 去重后的姓名列表，按字数降序
func (c *Cache) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	return append([]string(nil), c.names...)
}

func (c *Cache) refreshLocked() {
	info, err := os.Stat(c.path)
	if err != nil {
		c.entries, c.names, c.loaded = nil, nil, false
		return
	}
	if c.loaded && info.ModTime().Equal(c.mtime) {
		return
	}

	entries, err := Load(c.path)
	if err != nil {
		c.logger.Warn("名册加载失败", zap.String("path", c.path), zap.Error(err))
		entries = nil
	}
	c.entries = entries
	c.names = SortedNames(entries)
	c.mtime = info.ModTime()
	c.loaded = true
	c.logger.Info("名册已加载", zap.String("path", c.path), zap.Int("count", len(entries)))
}

// SortedNames 提取去重姓名并按字数降序（同长度保持名册顺序）
func SortedNames(entries []Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		if _, ok := seen[e.Name]; ok {
			continue
		}
		seen[e.Name] = struct{}{}
		names = append(names, e.Name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		return utf8.RuneCountInString(names[i]) > utf8.RuneCountInString(names[j])
	})
	return names
}
