package socket

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/cykyes/duosock/log"
	"github.com/cykyes/duosock/metrics"
)

// outboxEntry 待重发的数据包及其已失败次数
type outboxEntry struct {
	packet   Packet
	attempts int
}

// DroppedOutbox 保存发送失败的数据包，由 Receive 在每次轮询前重发。
// 所有 MessageSender 副本与绑定的异步写入路径共享同一个实例。
type DroppedOutbox struct {
	mu    sync.Mutex
	items *queue.Queue

	maxAttempts int
	logger      log.Logger
	metrics     *metrics.Collector
}

func newDroppedOutbox(maxAttempts int, logger log.Logger, m *metrics.Collector) *DroppedOutbox {
	return &DroppedOutbox{
		items:       queue.New(),
		maxAttempts: maxAttempts,
		logger:      logger,
		metrics:     m,
	}
}

// Len 返回待重发的数据包数量
func (o *DroppedOutbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.items.Length()
}

// reject 记录一次发送失败；未超过最大次数时按提交顺序排入队尾
func (o *DroppedOutbox) reject(entry outboxEntry, cause error) {
	entry.attempts++
	o.metrics.IncSendFailures()

	if o.maxAttempts > 0 && entry.attempts >= o.maxAttempts {
		o.logger.Warn("数据包发送 %d 次均失败，放弃: %v", entry.attempts, cause)
		o.metrics.IncSendGaveUp()
		return
	}

	o.mu.Lock()
	o.items.Add(entry)
	n := o.items.Length()
	o.mu.Unlock()

	o.metrics.SetOutboxPending(int64(n))
	o.logger.Debug("数据包发送失败，等待重发 (第 %d 次): %v", entry.attempts, cause)
}

// takeAll 取走当前全部元素；之后加入的元素留给下一次调用
func (o *DroppedOutbox) takeAll() []outboxEntry {
	o.mu.Lock()
	n := o.items.Length()
	if n == 0 {
		o.mu.Unlock()
		return nil
	}
	entries := make([]outboxEntry, 0, n)
	for o.items.Length() > 0 {
		entries = append(entries, o.items.Remove().(outboxEntry))
	}
	o.mu.Unlock()

	o.metrics.SetOutboxPending(0)
	return entries
}
