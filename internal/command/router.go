package command

import (
	"context"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
)

// SessionHandler 会话入口（*session.Manager 实现）
type SessionHandler interface {
	HandleFile(ctx context.Context, msg transport.Message, ref transport.FileRef) bool
	HandleText(ctx context.Context, msg transport.Message) bool
}

// Router 一条入站消息的处理顺序：文件 → 会话回复 → 命令
type Router struct {
	sessions SessionHandler
	commands *Handler
	logger   *zap.Logger
}

// NewRouter 创建消息路由
func NewRouter(sessions SessionHandler, commands *Handler, logger *zap.Logger) *Router {
	return &Router{sessions: sessions, commands: commands, logger: logger}
}

// Handle 处理一条消息；调用方已持有该用户的会话锁
func (r *Router) Handle(ctx context.Context, msg transport.Message) {
	if len(msg.Files) > 0 {
		for _, ref := range msg.Files {
			r.sessions.HandleFile(ctx, msg, ref)
		}
		return
	}
	if msg.Text == "" {
		return
	}
	if r.sessions.HandleText(ctx, msg) {
		return
	}
	if !r.commands.Handle(ctx, msg) {
		r.logger.Debug("忽略消息",
			zap.Int64("user_id", msg.Conv.UserID),
			zap.String("scene", msg.Conv.Scene.String()),
		)
	}
}
