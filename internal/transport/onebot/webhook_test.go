package onebot

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const privateEvent = `{"post_type":"message","message_type":"private","sub_type":"friend","message_id":1,"user_id":1001,"raw_message":"/handinhelp"}`

func init() {
	gin.SetMode(gin.TestMode)
}

func postEvent(src *WebhookSource, body, sig string) *httptest.ResponseRecorder {
	r := gin.New()
	r.POST("/onebot/event", src.Handle)
	req := httptest.NewRequest("POST", "/onebot/event", strings.NewReader(body))
	if sig != "" {
		req.Header.Set("X-Signature", sig)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sign(secret, body string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhook_NotConnected(t *testing.T) {
	src := NewWebhookSource("", nil, zap.NewNop())
	if w := postEvent(src, privateEvent, ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("无连接时期望 503，实际: %d", w.Code)
	}
}

func TestWebhook_DeliversToConnection(t *testing.T) {
	src := NewWebhookSource("", nil, zap.NewNop())
	conn, err := src.Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if w := postEvent(src, privateEvent, ""); w.Code != http.StatusNoContent {
		t.Fatalf("期望 204，实际: %d", w.Code)
	}
	select {
	case msg := <-conn.Events():
		if msg.Conv.UserID != 1001 || msg.Text != "/handinhelp" {
			t.Errorf("消息不符: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("未收到事件")
	}

	// 非消息事件直接确认
	if w := postEvent(src, `{"post_type":"notice"}`, ""); w.Code != http.StatusNoContent {
		t.Errorf("非消息事件期望 204，实际: %d", w.Code)
	}
}

func TestWebhook_Signature(t *testing.T) {
	src := NewWebhookSource("s3cret", nil, zap.NewNop())
	conn, _ := src.Connect(context.Background())
	defer conn.Close()

	if w := postEvent(src, privateEvent, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("缺签名期望 401，实际: %d", w.Code)
	}
	if w := postEvent(src, privateEvent, sign("wrong", privateEvent)); w.Code != http.StatusUnauthorized {
		t.Errorf("错误签名期望 401，实际: %d", w.Code)
	}
	if w := postEvent(src, privateEvent, sign("s3cret", privateEvent)); w.Code != http.StatusNoContent {
		t.Errorf("正确签名期望 204，实际: %d", w.Code)
	}
}

func TestWebhook_ReconnectReplacesConnection(t *testing.T) {
	src := NewWebhookSource("", nil, zap.NewNop())
	first, _ := src.Connect(context.Background())
	second, _ := src.Connect(context.Background())
	defer second.Close()

	select {
	case <-first.Done():
	default:
		t.Fatal("新连接建立后旧连接应关闭")
	}

	second.Close()
	if w := postEvent(src, privateEvent, ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("连接关闭后期望 503，实际: %d", w.Code)
	}
}

func TestWebhook_ContextCancelClosesConnection(t *testing.T) {
	src := NewWebhookSource("", nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	conn, _ := src.Connect(ctx)
	cancel()

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("ctx 取消后连接应关闭")
	}
}
