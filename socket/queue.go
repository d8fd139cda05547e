package socket

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// syncQueue 多生产者的 FIFO 队列。Pop 在队列为空时阻塞，
// 关闭后先交付剩余元素，再返回 ErrTransportClosed。
type syncQueue[T any] struct {
	mu     sync.Mutex
	items  *queue.Queue
	closed bool

	ready chan struct{}
	done  chan struct{}
}

func newSyncQueue[T any]() *syncQueue[T] {
	return &syncQueue[T]{
		items: queue.New(),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push 追加元素，队列已关闭时返回 false
func (q *syncQueue[T]) Push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items.Add(item)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Pop 取出队首元素
func (q *syncQueue[T]) Pop(ctx context.Context) (T, error) {
	for {
		if item, ok := q.TryPop(); ok {
			return item, nil
		}

		q.mu.Lock()
		closed := q.closed && q.items.Length() == 0
		q.mu.Unlock()
		if closed {
			var zero T
			return zero, ErrTransportClosed
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryPop 非阻塞地取出队首元素
func (q *syncQueue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Length() == 0 {
		var zero T
		return zero, false
	}
	item := q.items.Remove().(T)
	if q.items.Length() > 0 {
		// 还有元素时保持唤醒，供其他等待者继续消费
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return item, true
}

// Close 关闭生产端，可重复调用
func (q *syncQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Closed 报告生产端是否已关闭
func (q *syncQueue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len 返回当前元素数
func (q *syncQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// localQueue 单一所有者的 FIFO 队列，不做同步
type localQueue[T any] struct {
	items *queue.Queue
}

func newLocalQueue[T any]() *localQueue[T] {
	return &localQueue[T]{items: queue.New()}
}

func (q *localQueue[T]) Push(item T) {
	q.items.Add(item)
}

func (q *localQueue[T]) Pop() (T, bool) {
	if q.items.Length() == 0 {
		var zero T
		return zero, false
	}
	return q.items.Remove().(T), true
}

func (q *localQueue[T]) Len() int {
	return q.items.Length()
}

// queueItem 事件队列元素
type queueItem struct {
	event Event
	err   error
}
