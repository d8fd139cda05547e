package socket

import (
	"sync"

	"github.com/eapache/queue"
)

// mailbox 把后台 goroutine 产生的回调转交给轮询方执行。
// 回调只在 runPending 中运行，因此可以无锁地修改轮询方拥有的状态。
type mailbox struct {
	mu      sync.Mutex
	pending *queue.Queue
	closed  bool
}

func newMailbox() *mailbox {
	return &mailbox{pending: queue.New()}
}

// post 投递回调，关闭后丢弃并返回 false
func (m *mailbox) post(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.pending.Add(fn)
	return true
}

// runPending 按投递顺序执行当前已有的回调，返回执行数。
// 执行期间新投递的回调留到下一次调用。
func (m *mailbox) runPending() int {
	m.mu.Lock()
	n := m.pending.Length()
	batch := make([]func(), 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, m.pending.Remove().(func()))
	}
	m.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

// close 停止接收回调并丢弃未执行的回调
func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for m.pending.Length() > 0 {
		m.pending.Remove()
	}
}
