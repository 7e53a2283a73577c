package workerpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool 阻塞 I/O（下载、打包、复制）专用的有界执行池
// 调用方在自己的 goroutine 中等待结果，池只限制同时进行的 I/O 数量
type Pool struct {
	sem *semaphore.Weighted
}

// New 创建执行池，size<=0 时为 1
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Do 占用一个槽位执行 fn；ctx 取消时放弃排队并返回 ctx.Err()
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// Run 与 Do 相同，但带返回值
func Run[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func() error {
		var ferr error
		out, ferr = fn()
		return ferr
	})
	return out, err
}
