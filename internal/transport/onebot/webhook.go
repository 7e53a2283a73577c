package onebot

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
	"github.com/Cooper3516833584/Cooper-bot/pkg/response"
)

const maxWebhookBody = 1 << 20

// WebhookSource HTTP 上报事件源；实现 transport.EventSource
// 上报由 gin 路由进入 Handle，再投递给当前连接
type WebhookSource struct {
	secret string
	perms  transport.PermissionResolver
	logger *zap.Logger

	mu      sync.Mutex
	current *stream
}

// NewWebhookSource secret 非空时校验 X-Signature
func NewWebhookSource(secret string, perms transport.PermissionResolver, logger *zap.Logger) *WebhookSource {
	return &WebhookSource{secret: secret, perms: perms, logger: logger}
}

// Connect 注册新的连接；旧连接随之关闭
func (s *WebhookSource) Connect(ctx context.Context) (transport.Connection, error) {
	var st *stream
	st = newStream(256, func() error {
		s.mu.Lock()
		if s.current == st {
			s.current = nil
		}
		s.mu.Unlock()
		return nil
	})

	s.mu.Lock()
	prev := s.current
	s.current = st
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	context.AfterFunc(ctx, func() { _ = st.Close() })
	return st, nil
}

// Handle POST /onebot/event
func (s *WebhookSource) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, response.CodeBadParam, "读取上报失败")
		return
	}
	if !s.verify(c.GetHeader("X-Signature"), body) {
		response.Unauthorized(c, response.CodeUnauthorized, "签名校验失败")
		return
	}

	msg, ok := ParseEvent(body, s.perms)
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}

	s.mu.Lock()
	st := s.current
	s.mu.Unlock()
	if st == nil || !st.push(msg) {
		response.ServiceUnavailable(c, "事件通道未就绪")
		return
	}
	c.Status(http.StatusNoContent)
}

// verify X-Signature: sha1=<hex(hmac_sha1(secret, body))>
func (s *WebhookSource) verify(header string, body []byte) bool {
	if s.secret == "" {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha1=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, []byte(s.secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
