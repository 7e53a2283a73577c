// Package dispatch 把入站事件分发为独立的处理单元：
// 全局信号量限制同时处理的数量，分片锁保证同一用户的会话输入串行。
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
	"github.com/Cooper3516833584/Cooper-bot/pkg/keylock"
)

// ErrConnectionLost 事件连接断开
var ErrConnectionLost = errors.New("事件连接已断开")

// Handler 处理一条入站消息（*command.Router 实现）
type Handler interface {
	Handle(ctx context.Context, msg transport.Message)
}

// Guard 入站过滤：去重与限流；返回 false 时丢弃
type Guard interface {
	Allow(ctx context.Context, msg transport.Message) bool
}

// Options 分发参数
type Options struct {
	MaxInFlight int
	GracePeriod time.Duration
}

// Dispatcher 事件分发器
type Dispatcher struct {
	handler Handler
	guard   Guard
	locks   *keylock.Table
	sem     *semaphore.Weighted
	opts    Options
	logger  *zap.Logger

	// 同一会话的在途单元按到达顺序排队；只记录在途的 key，处理完即删除
	tailMu sync.Mutex
	tails  map[string]chan struct{}
}

// New 创建分发器；guard 可为 nil；locks 须与 session.Manager 共用
func New(handler Handler, guard Guard, locks *keylock.Table, opts Options, logger *zap.Logger) *Dispatcher {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 64
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	return &Dispatcher{
		handler: handler,
		guard:   guard,
		locks:   locks,
		sem:     semaphore.NewWeighted(int64(opts.MaxInFlight)),
		opts:    opts,
		logger:  logger,
		tails:   make(map[string]chan struct{}),
	}
}

// Serve 消费一条连接上的事件直到连接断开或 ctx 取消
// 退出前给在途单元 GracePeriod 收尾，超时后取消它们的 ctx 并等待返回
func (d *Dispatcher) Serve(ctx context.Context, conn transport.Connection) error {
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	var wg sync.WaitGroup
	err := d.consume(ctx, workCtx, conn, &wg)
	d.drain(&wg, cancelWork)
	return err
}

func (d *Dispatcher) consume(ctx, workCtx context.Context, conn transport.Connection, wg *sync.WaitGroup) error {
	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			return connErr(conn)
		case msg, ok := <-events:
			if !ok {
				return connErr(conn)
			}
			if err := d.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			key := msg.Conv.LockKey()
			prev, mine := d.enqueue(key)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer d.sem.Release(1)
				defer d.finish(key, mine)
				if prev != nil {
					<-prev
				}
				d.dispatch(workCtx, msg)
			}()
		}
	}
}

// enqueue 返回同 key 上一个在途单元的完成信号（没有则为 nil）
func (d *Dispatcher) enqueue(key string) (prev, mine chan struct{}) {
	mine = make(chan struct{})
	d.tailMu.Lock()
	prev = d.tails[key]
	d.tails[key] = mine
	d.tailMu.Unlock()
	return prev, mine
}

func (d *Dispatcher) finish(key string, mine chan struct{}) {
	close(mine)
	d.tailMu.Lock()
	if d.tails[key] == mine {
		delete(d.tails, key)
	}
	d.tailMu.Unlock()
}

func connErr(conn transport.Connection) error {
	if err := conn.Err(); err != nil {
		return errors.Join(ErrConnectionLost, err)
	}
	return ErrConnectionLost
}

func (d *Dispatcher) drain(wg *sync.WaitGroup, cancel context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(d.opts.GracePeriod)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
	}

	d.logger.Warn("在途事件超过宽限期，取消处理", zap.Duration("grace_period", d.opts.GracePeriod))
	cancel()
	<-done
}

// dispatch 单个处理单元：过滤 → 会话锁 → 处理；panic 只影响本单元
func (d *Dispatcher) dispatch(ctx context.Context, msg transport.Message) {
	unit := uuid.NewString()[:8]
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("事件处理 panic",
				zap.String("unit", unit),
				zap.Int64("user_id", msg.Conv.UserID),
				zap.Any("panic", r),
			)
		}
	}()

	if d.guard != nil && !d.guard.Allow(ctx, msg) {
		return
	}

	unlock := d.locks.Lock(msg.Conv.LockKey())
	defer unlock()
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	d.handler.Handle(ctx, msg)
	d.logger.Debug("事件处理完成",
		zap.String("unit", unit),
		zap.String("event_id", msg.EventID),
		zap.Int64("user_id", msg.Conv.UserID),
		zap.Duration("latency", time.Since(start)),
	)
}
