package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
)

// Runner 随连接启停的后台任务（*service.Scheduler 实现）
type Runner interface {
	Run(ctx context.Context) error
}

// Supervisor 连接 → 调度器与分发器并行运行 → 断开后固定退避重连
type Supervisor struct {
	source     transport.EventSource
	dispatcher *Dispatcher
	scheduler  Runner
	backoff    time.Duration
	logger     *zap.Logger
}

// NewSupervisor 创建重连守护
func NewSupervisor(source transport.EventSource, dispatcher *Dispatcher, scheduler Runner, backoff time.Duration, logger *zap.Logger) *Supervisor {
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Supervisor{
		source:     source,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		backoff:    backoff,
		logger:     logger,
	}
}

// RunForever 无限重连直到 ctx 取消
func (s *Supervisor) RunForever(ctx context.Context) error {
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Error("连接断开/异常", zap.Error(err), zap.Duration("backoff", s.backoff))

		timer := time.NewTimer(s.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// runOnce 一次连接的生命周期；返回时调度器已停止
func (s *Supervisor) runOnce(ctx context.Context) error {
	conn, err := s.source.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	s.logger.Info("已连接至服务器")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.scheduler.Run(gctx)
	})
	g.Go(func() error {
		return s.dispatcher.Serve(gctx, conn)
	})
	return g.Wait()
}
