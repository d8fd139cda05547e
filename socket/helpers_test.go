package socket

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/cykyes/duosock/metrics"
)

var testServer = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}

const fakeMaxPayload = 1024

// fakeBinding 可控的绑定：事件由测试推入，发送可按需失败
type fakeBinding struct {
	events *syncQueue[queueItem]

	mu       sync.Mutex
	sent     []Packet
	calls    []string
	failNext int
	closed   bool
}

func newFakeBinding() *fakeBinding {
	return &fakeBinding{events: newSyncQueue[queueItem]()}
}

func (f *fakeBinding) submit(entry outboxEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "submit:"+string(entry.packet.Payload()))
	if f.closed || f.failNext > 0 {
		if f.failNext > 0 {
			f.failNext--
		}
		return ErrSenderClosed
	}
	f.sent = append(f.sent, entry.packet)
	return nil
}

func (f *fakeBinding) next(ctx context.Context) (Event, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "next")
	f.mu.Unlock()

	item, err := f.events.Pop(ctx)
	if err != nil {
		return Event{}, err
	}
	return item.event, item.err
}

func (f *fakeBinding) maxPayload() int    { return fakeMaxPayload }
func (f *fakeBinding) classifies() bool   { return true }
func (f *fakeBinding) localAddr() net.Addr { return nil }

func (f *fakeBinding) close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.events.Close()
	return nil
}

func (f *fakeBinding) push(payload string) {
	f.events.Push(queueItem{event: Event{Kind: EventPacket, Packet: NewPacket(testServer, []byte(payload))}})
}

func (f *fakeBinding) setFailNext(n int) {
	f.mu.Lock()
	f.failNext = n
	f.mu.Unlock()
}

func (f *fakeBinding) sentPayloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, p := range f.sent {
		out[i] = string(p.Payload())
	}
	return out
}

func (f *fakeBinding) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBinding) resetCalls() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func newFakeSocket(t *testing.T, opts ...Option) (*ClientSocket, *fakeBinding) {
	t.Helper()
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("配置无效: %v", err)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector()
	}
	fb := newFakeBinding()
	outbox := newDroppedOutbox(cfg.MaxSendAttempts, cfg.Logger, cfg.Metrics)
	s := newClientSocket(cfg, testServer, outbox, fb)
	t.Cleanup(func() { s.Close() })
	return s, fb
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
