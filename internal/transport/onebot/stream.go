package onebot

import (
	"sync"

	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
)

// stream 事件连接的公共部分；实现 transport.Connection
type stream struct {
	events chan transport.Message
	done   chan struct{}

	once    sync.Once
	mu      sync.Mutex
	err     error
	onClose func() error
}

func newStream(buffer int, onClose func() error) *stream {
	return &stream{
		events:  make(chan transport.Message, buffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (s *stream) Events() <-chan transport.Message { return s.events }
func (s *stream) Done() <-chan struct{}            { return s.done }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// fail 记录断开原因并关闭 done；只生效一次
func (s *stream) fail(err error) error {
	var closeErr error
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		if s.onClose != nil {
			closeErr = s.onClose()
		}
	})
	return closeErr
}

func (s *stream) Close() error { return s.fail(nil) }

// push 投递一条事件；连接已断开时返回 false
func (s *stream) push(msg transport.Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- msg:
		return true
	case <-s.done:
		return false
	}
}
