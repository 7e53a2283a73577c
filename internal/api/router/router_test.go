package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/config"
	"github.com/Cooper3516833584/Cooper-bot/internal/api/handler"
	"github.com/Cooper3516833584/Cooper-bot/internal/repository"
	"github.com/Cooper3516833584/Cooper-bot/internal/roster"
	"github.com/Cooper3516833584/Cooper-bot/internal/service"
)

type emptyRoster struct{}

func (emptyRoster) Entries() []roster.Entry { return nil }
func (emptyRoster) Path() string            { return "" }

func setupRouter(t *testing.T, webhook gin.HandlerFunc) *gin.Engine {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{}
	cfg.Server.AdminToken = "secret"
	cfg.Handin.ArchiveDir = filepath.Join(root, "handin")
	cfg.Handin.InboxDir = filepath.Join(root, "inbox")
	cfg.Handin.ArchiveRetention = time.Hour
	cfg.Handin.InboxRetention = time.Hour
	cfg.Handin.Timezone = "UTC"

	logger := zap.NewNop()
	repo := repository.NewFileRepository(filepath.Join(root, "tasks.json"), logger)
	svc := service.NewService(cfg, repo, emptyRoster{}, logger)
	if err := svc.Task.Init(context.Background()); err != nil {
		t.Fatalf("Init 失败: %v", err)
	}
	return Setup(cfg, handler.NewHandler(svc), webhook, nil, logger)
}

func do(r *gin.Engine, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSetup_Routes(t *testing.T) {
	r := setupRouter(t, nil)

	tests := []struct {
		name   string
		method string
		target string
		token  string
		want   int
	}{
		{"健康检查无需认证", "GET", "/health", "", http.StatusOK},
		{"管理接口需要认证", "GET", "/api/v1/tasks", "", http.StatusUnauthorized},
		{"任务列表", "GET", "/api/v1/tasks", "secret", http.StatusOK},
		{"任务不存在", "GET", "/api/v1/tasks/nope", "secret", http.StatusNotFound},
		{"日历", "GET", "/api/v1/groups/100/calendar.ics", "secret", http.StatusOK},
		{"未注册上报入口", "POST", "/onebot/event", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(r, tt.method, tt.target, tt.token); w.Code != tt.want {
				t.Errorf("期望 %d，实际: %d", tt.want, w.Code)
			}
		})
	}
}

func TestSetup_WebhookRegistered(t *testing.T) {
	called := false
	r := setupRouter(t, func(c *gin.Context) {
		called = true
		c.Status(http.StatusNoContent)
	})

	w := do(r, "POST", "/onebot/event", "")
	if w.Code != http.StatusNoContent || !called {
		t.Errorf("上报入口应不经管理认证直接到达，实际: %d", w.Code)
	}
}
