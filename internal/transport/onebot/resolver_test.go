package onebot

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
	apperrors "github.com/Cooper3516833584/Cooper-bot/pkg/errors"
)

type mockLocator struct {
	src   string
	err   error
	calls int
}

func (m *mockLocator) GetFile(_ context.Context, _ string) (string, error) {
	m.calls++
	return m.src, m.err
}

func newTestResolver(locator FileLocator, hostDir string) *Resolver {
	r := NewResolver(locator, ResolverOptions{
		TempContainerDir: "/app/.config/QQ/NapCat/temp",
		TempHostDir:      hostDir,
		FetchTimeout:     time.Second,
		PollTimeout:      30 * time.Millisecond,
		PollInterval:     time.Millisecond,
	}, zap.NewNop())
	r.sleep = func(time.Duration) {}
	return r
}

func readAll(t *testing.T, rc io.ReadCloser, err error) string {
	t.Helper()
	if err != nil {
		t.Fatalf("Open 失败: %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestResolver_HTTP(t *testing.T) {
	var gotUA, gotFname string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		gotFname = r.URL.Query().Get("fname")
		_, _ = io.WriteString(w, "content")
	}))
	defer srv.Close()

	r := newTestResolver(&mockLocator{}, t.TempDir())
	rc, err := r.Open(context.Background(), 1001, transport.FileRef{Name: "作业.docx", URL: srv.URL + "/ftn_handler/abc?fname="})
	if got := readAll(t, rc, err); got != "content" {
		t.Errorf("内容不符: %q", got)
	}
	if gotUA != "Mozilla/5.0" {
		t.Errorf("User-Agent 不符: %q", gotUA)
	}
	if gotFname != "作业.docx" {
		t.Errorf("空 fname 应补上文件名，实际: %q", gotFname)
	}
}

func TestResolver_HTTPErrorFallsBackToGetFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/bad") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = io.WriteString(w, "good")
	}))
	defer srv.Close()

	loc := &mockLocator{src: srv.URL + "/good"}
	r := newTestResolver(loc, t.TempDir())
	rc, err := r.Open(context.Background(), 1001, transport.FileRef{Name: "a.pdf", ID: "fid", URL: srv.URL + "/bad"})
	if got := readAll(t, rc, err); got != "good" {
		t.Errorf("应改用 get_file 地址，实际: %q", got)
	}
	if loc.calls != 1 {
		t.Errorf("期望调用 get_file 1 次，实际: %d", loc.calls)
	}
}

func TestResolver_NoSource(t *testing.T) {
	r := newTestResolver(&mockLocator{err: errors.New("timeout")}, t.TempDir())

	_, err := r.Open(context.Background(), 1001, transport.FileRef{Name: "a.pdf", ID: "fid"})
	if !errors.Is(err, ErrNoDownloadSource) {
		t.Errorf("期望 ErrNoDownloadSource，实际: %v", err)
	}
}

func TestResolver_CachedPathMapping(t *testing.T) {
	host := t.TempDir()
	if err := os.MkdirAll(filepath.Join(host, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(host, "sub", "a.docx"), []byte("cached"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newTestResolver(&mockLocator{src: "/app/.config/QQ/NapCat/temp/sub/a.docx"}, host)
	rc, err := r.Open(context.Background(), 1001, transport.FileRef{Name: "a.docx", ID: "fid"})
	if got := readAll(t, rc, err); got != "cached" {
		t.Errorf("内容不符: %q", got)
	}
}

func TestResolver_CachedGlobFallback(t *testing.T) {
	host := t.TempDir()
	if err := os.WriteFile(filepath.Join(host, "a(1).docx"), []byte("renamed"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newTestResolver(&mockLocator{}, host)
	rc, err := r.Open(context.Background(), 1001, transport.FileRef{Name: "a.docx", URL: "file:///app/.config/QQ/NapCat/temp/a.docx"})
	if got := readAll(t, rc, err); got != "renamed" {
		t.Errorf("应按 主干*扩展名 匹配，实际: %q", got)
	}
}

func TestResolver_CachedMissing(t *testing.T) {
	host := t.TempDir()
	r := newTestResolver(&mockLocator{}, host)

	_, err := r.Open(context.Background(), 1001, transport.FileRef{Name: "x.docx", URL: "/app/.config/QQ/NapCat/temp/x.docx"})
	if !apperrors.IsKind(err, apperrors.KindNotFound) || !strings.Contains(err.Error(), "本地缓存文件不存在") {
		t.Errorf("期望缓存文件不存在，实际: %v", err)
	}

	r = newTestResolver(&mockLocator{}, filepath.Join(host, "nope"))
	_, err = r.Open(context.Background(), 1001, transport.FileRef{Name: "x.docx", URL: "/app/.config/QQ/NapCat/temp/x.docx"})
	if err == nil || !strings.Contains(err.Error(), "本地缓存目录不存在") {
		t.Errorf("期望缓存目录不存在，实际: %v", err)
	}
}

func TestNormalizeDownloadURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"已有 fname", "https://x.qq.com/ftn_handler/a?fname=b.doc", "https://x.qq.com/ftn_handler/a?fname=b.doc"},
		{"空 fname", "https://x.qq.com/d?fname=", "https://x.qq.com/d?fname=a.pdf"},
		{"ftn_handler 缺 fname", "https://x.qq.com/ftn_handler/a", "https://x.qq.com/ftn_handler/a?fname=a.pdf"},
		{"其他链接不变", "https://x.qq.com/d?k=1", "https://x.qq.com/d?k=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeDownloadURL(tt.raw, "a.pdf"); got != tt.want {
				t.Errorf("期望 %s，实际: %s", tt.want, got)
			}
		})
	}
}
