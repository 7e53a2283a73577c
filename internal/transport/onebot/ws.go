package onebot

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
	apperrors "github.com/Cooper3516833584/Cooper-bot/pkg/errors"
)

// WSSource 正向 WebSocket 事件源；实现 transport.EventSource
type WSSource struct {
	url    string
	token  string
	perms  transport.PermissionResolver
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewWSSource 创建 WebSocket 事件源
func NewWSSource(url, token string, perms transport.PermissionResolver, logger *zap.Logger) *WSSource {
	return &WSSource{
		url:    url,
		token:  token,
		perms:  perms,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

// Connect 建立连接并启动读循环；读循环退出时关闭 Done
func (s *WSSource) Connect(ctx context.Context) (transport.Connection, error) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	ws, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w（HTTP %d）", err, resp.StatusCode)
		}
		return nil, apperrors.Wrap(apperrors.KindTransientTransport, "连接 OneBot WebSocket 失败", err)
	}

	st := newStream(256, ws.Close)
	go s.readLoop(ctx, ws, st)
	return st, nil
}

func (s *WSSource) readLoop(ctx context.Context, ws *websocket.Conn, st *stream) {
	defer close(st.events)

	stop := context.AfterFunc(ctx, func() { _ = st.Close() })
	defer stop()

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrCloseSent) || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = nil
			}
			_ = st.fail(err)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		// action 回包带 echo 没有 post_type，ParseEvent 直接丢弃
		msg, ok := ParseEvent(data, s.perms)
		if !ok {
			continue
		}
		if !st.push(msg) {
			return
		}
	}
}
