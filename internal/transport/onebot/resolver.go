package onebot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
	apperrors "github.com/Cooper3516833584/Cooper-bot/pkg/errors"
)

// ErrNoDownloadSource 事件没有 url，get_file 也没给出地址
var ErrNoDownloadSource = apperrors.New(apperrors.KindNotFound,
	"获取下载链接失败：事件未提供 url，且 get_file 未返回 url/本地路径（大文件可能需要更久，可稍后重试）。")

// FileLocator 通过 file_id 查询下载地址（*Client 实现）
type FileLocator interface {
	GetFile(ctx context.Context, fileID string) (string, error)
}

// ResolverOptions NapCat 本地缓存目录映射与等待参数
type ResolverOptions struct {
	TempContainerDir string
	TempHostDir      string
	FetchTimeout     time.Duration
	PollTimeout      time.Duration
	PollInterval     time.Duration
}

// Resolver 把入站文件引用解析为字节流；实现 transport.FileResolver
// 支持 http(s) 直链、file:// 与 NapCat 容器内缓存路径
type Resolver struct {
	locator FileLocator
	httpc   *http.Client
	opts    ResolverOptions
	logger  *zap.Logger
	sleep   func(time.Duration)
}

// NewResolver 创建文件解析器
func NewResolver(locator FileLocator, opts ResolverOptions, logger *zap.Logger) *Resolver {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 180 * time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 8 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 400 * time.Millisecond
	}
	return &Resolver{
		locator: locator,
		httpc:   &http.Client{Timeout: opts.FetchTimeout},
		opts:    opts,
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// Open 先用事件 url；没有时走 get_file；事件 url 失败时再用 get_file 的结果补一次
func (r *Resolver) Open(ctx context.Context, userID int64, ref transport.FileRef) (io.ReadCloser, error) {
	src := strings.TrimSpace(ref.URL)
	if src == "" && ref.ID != "" {
		src = r.locate(ctx, ref.ID)
	}
	if src == "" {
		return nil, ErrNoDownloadSource
	}

	rc, err := r.openSource(ctx, src, ref)
	if err == nil {
		return rc, nil
	}
	if ref.ID != "" && src == strings.TrimSpace(ref.URL) {
		if src2 := r.locate(ctx, ref.ID); src2 != "" && src2 != src {
			r.logger.Info("事件链接下载失败，改用 get_file 地址",
				zap.Int64("user_id", userID),
				zap.String("file", ref.Name),
				zap.Error(err),
			)
			return r.openSource(ctx, src2, ref)
		}
	}
	return nil, err
}

func (r *Resolver) locate(ctx context.Context, fileID string) string {
	src, err := r.locator.GetFile(ctx, fileID)
	if err != nil {
		r.logger.Warn("get_file 失败", zap.String("file_id", fileID), zap.Error(err))
		return ""
	}
	return src
}

func (r *Resolver) openSource(ctx context.Context, src string, ref transport.FileRef) (io.ReadCloser, error) {
	if strings.HasPrefix(src, "file://") {
		u, err := url.Parse(src)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindValidation, "下载文件失败：本地路径格式不对", err)
		}
		src = u.Path
	}

	switch {
	case strings.HasPrefix(src, "/"):
		return r.openCached(src, ref)
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return r.openHTTP(ctx, normalizeDownloadURL(src, ref.Name))
	default:
		return nil, apperrors.New(apperrors.KindValidation, "下载文件失败：不支持的下载地址")
	}
}

// ────────────────────── HTTP ──────────────────────

func (r *Resolver) openHTTP(ctx context.Context, raw string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "下载文件失败：链接格式不对", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransientTransport, "下载文件失败：网络下载异常", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, apperrors.New(apperrors.KindTransientTransport,
			fmt.Sprintf("下载文件失败：HTTP %d（链接可能失效或被拦截）", resp.StatusCode))
	}
	return resp.Body, nil
}

// normalizeDownloadURL QQ 下载链接的 fname= 为空时补上文件名；ftn_handler 链接缺 fname 时追加
func normalizeDownloadURL(raw, filename string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if strings.HasSuffix(raw, "fname=") {
			return raw + url.QueryEscape(filename)
		}
		return raw
	}

	q := u.Query()
	_, has := q["fname"]
	switch {
	case has && q.Get("fname") == "":
		q.Set("fname", filename)
	case !has && strings.Contains(u.Path, "ftn_handler"):
		q.Set("fname", filename)
	default:
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ────────────────────── NapCat 本地缓存 ──────────────────────

// openCached 容器内路径映射到宿主机缓存目录
// 事件可能早于缓存落盘：等待最多 PollTimeout，并按文件名模糊匹配最新文件
func (r *Resolver) openCached(containerPath string, ref transport.FileRef) (io.ReadCloser, error) {
	hostDir := r.opts.TempHostDir
	cdir := strings.TrimRight(r.opts.TempContainerDir, "/")

	var src string
	if cdir != "" && (containerPath == cdir || strings.HasPrefix(containerPath, cdir+"/")) {
		rel := strings.TrimLeft(strings.TrimPrefix(containerPath, cdir), "/")
		src = filepath.Join(hostDir, filepath.FromSlash(rel))
	} else {
		src = filepath.Join(hostDir, path.Base(containerPath))
	}

	deadline := time.Now().Add(r.opts.PollTimeout)
	for !isRegular(src) {
		if alt := latestMatch(hostDir, path.Base(containerPath), ref.Name); alt != "" {
			src = alt
			break
		}
		if time.Now().After(deadline) {
			break
		}
		r.sleep(r.opts.PollInterval)
	}

	if !isRegular(src) {
		if info, err := os.Stat(hostDir); err != nil || !info.IsDir() {
			return nil, apperrors.New(apperrors.KindNotFound,
				fmt.Sprintf("下载文件失败：NapCat 本地缓存目录不存在：%s（请检查 onebot.temp_host_dir）", hostDir))
		}
		return nil, apperrors.New(apperrors.KindNotFound, "下载文件失败：NapCat 本地缓存文件不存在："+src)
	}

	// 大文件可能仍在落盘，等到至少达到期望大小的 1/10
	if ref.Size > 0 {
		min := ref.Size / 10
		if min < 32 {
			min = 32
		}
		for i := 0; i < 12; i++ {
			info, err := os.Stat(src)
			if err != nil || info.Size() >= min {
				break
			}
			r.sleep(500 * time.Millisecond)
		}
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindIO, "下载文件失败：本地缓存拷贝异常", err)
	}
	return f, nil
}

func isRegular(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// latestMatch 在缓存目录按 文件名 或 主干*扩展名 匹配，返回最新修改的文件
func latestMatch(dir string, names ...string) string {
	seen := map[string]bool{}
	var patterns []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		base := filepath.Base(n)
		patterns = append(patterns, base)
		if ext := filepath.Ext(base); ext != "" {
			patterns = append(patterns, strings.TrimSuffix(base, ext)+"*"+ext)
		}
	}

	type hit struct {
		path string
		mod  time.Time
	}
	var hits []hit
	for _, p := range patterns {
		if seen[p] {
			continue
		}
		seen[p] = true
		matches, err := filepath.Glob(filepath.Join(dir, escapeGlob(p)))
		if err != nil {
			continue
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
				hits = append(hits, hit{m, info.ModTime()})
			}
		}
	}
	if len(hits) == 0 {
		return ""
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].mod.After(hits[j].mod) })
	return hits[0].path
}

// escapeGlob 转义文件名中的 [ ] ? \，保留我们自己加的 *
func escapeGlob(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `[`, `\[`, `]`, `\]`, `?`, `\?`)
	return r.Replace(p)
}
