package reliable_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cykyes/duosock/internal/protocol"
	"github.com/cykyes/duosock/internal/testserver"
	"github.com/cykyes/duosock/metrics"
	"github.com/cykyes/duosock/reliable"
	"github.com/cykyes/duosock/transport"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []reliable.Event
	notify chan struct{}
}

func newRecorder() *eventRecorder {
	return &eventRecorder{notify: make(chan struct{}, 64)}
}

func (r *eventRecorder) handle(e reliable.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// waitFor 等待满足条件的事件出现
func (r *eventRecorder) waitFor(t *testing.T, timeout time.Duration, match func(reliable.Event) bool) reliable.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		r.mu.Lock()
		for _, e := range r.events {
			if match(e) {
				r.mu.Unlock()
				return e
			}
		}
		r.mu.Unlock()
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatal("等待事件超时")
			return reliable.Event{}
		}
	}
}

func (r *eventRecorder) count(kind reliable.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func dialLoopback(t *testing.T, server *net.UDPAddr, cfg reliable.Config, rec *eventRecorder) *reliable.Transport {
	t.Helper()
	conn, err := transport.ListenUDP(context.Background(), net.IPv4(127, 0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	mux := transport.NewUDPMux(conn, server)
	tr, err := reliable.Dial(mux, server, cfg, rec.handle)
	if err != nil {
		mux.Close()
		t.Fatalf("Dial 失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go tr.ReadLoop(ctx)
	go tr.HeartbeatLoop(ctx)
	t.Cleanup(func() {
		cancel()
		tr.Close()
	})
	return tr
}

func TestTransportPingPong(t *testing.T) {
	server, err := testserver.NewUDPServer()
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	rec := newRecorder()
	tr := dialLoopback(t, server.Addr(), reliable.Config{Metrics: metrics.NewCollector()}, rec)

	if err := tr.Send([]byte("ping")); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	e := rec.waitFor(t, 3*time.Second, func(e reliable.Event) bool { return e.Kind == reliable.EventPacket })
	if !bytes.Equal(e.Payload, []byte("pong")) {
		t.Errorf("期望 pong，实际 %q", e.Payload)
	}
	if !transport.SameAddr(e.Addr, server.Addr()) {
		t.Errorf("来源地址期望 %s，实际 %s", server.Addr(), e.Addr)
	}
}

func TestTransportMessageBoundaries(t *testing.T) {
	server, err := testserver.NewUDPServer(testserver.WithEcho())
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	rec := newRecorder()
	tr := dialLoopback(t, server.Addr(), reliable.Config{Metrics: metrics.NewCollector()}, rec)

	msgs := []string{"a", "bb", "ccc"}
	for _, m := range msgs {
		if err := tr.Send([]byte(m)); err != nil {
			t.Fatal(err)
		}
	}
	rec.waitFor(t, 3*time.Second, func(e reliable.Event) bool { return string(e.Payload) == "ccc" })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var got []string
	for _, e := range rec.events {
		if e.Kind == reliable.EventPacket {
			got = append(got, string(e.Payload))
		}
	}
	if len(got) != len(msgs) {
		t.Fatalf("消息数量期望 %d，实际 %d: %q", len(msgs), len(got), got)
	}
	for i := range msgs {
		if got[i] != msgs[i] {
			t.Errorf("第 %d 条消息期望 %q，实际 %q", i, msgs[i], got[i])
		}
	}
}

func TestTransportEncrypted(t *testing.T) {
	server, err := testserver.NewUDPServer(testserver.WithSecret("s3cret"))
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	rec := newRecorder()
	tr := dialLoopback(t, server.Addr(), reliable.Config{Secret: "s3cret", Metrics: metrics.NewCollector()}, rec)
	tr.Send([]byte("ping"))

	e := rec.waitFor(t, 3*time.Second, func(e reliable.Event) bool { return e.Kind == reliable.EventPacket })
	if string(e.Payload) != "pong" {
		t.Errorf("期望 pong，实际 %q", e.Payload)
	}
}

func TestTransportStrayDatagrams(t *testing.T) {
	server, err := testserver.NewUDPServer()
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	rec := newRecorder()
	tr := dialLoopback(t, server.Addr(), reliable.Config{Metrics: metrics.NewCollector()}, rec)

	stranger, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer stranger.Close()

	for i := 0; i < 2; i++ {
		if _, err := stranger.WriteTo([]byte("hi"), tr.LocalAddr()); err != nil {
			t.Fatal(err)
		}
	}

	rec.waitFor(t, 2*time.Second, func(e reliable.Event) bool { return e.Kind == reliable.EventStray && e.Addr != nil })
	time.Sleep(100 * time.Millisecond)

	if n := rec.count(reliable.EventConnect); n != 1 {
		t.Errorf("同一陌生地址只应报告一次连接，实际 %d", n)
	}
	if n := rec.count(reliable.EventStray); n != 2 {
		t.Errorf("陌生数据报期望 2 个，实际 %d", n)
	}
}

func TestTransportIdleTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过超时测试")
	}

	server, err := testserver.NewUDPServer()
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	collector := metrics.NewCollector()
	rec := newRecorder()
	tr := dialLoopback(t, server.Addr(), reliable.Config{
		HeartbeatInterval: 50 * time.Millisecond,
		IdleTimeout:       300 * time.Millisecond,
		Metrics:           collector,
	}, rec)

	tr.Send([]byte("ping"))
	rec.waitFor(t, 3*time.Second, func(e reliable.Event) bool { return e.Kind == reliable.EventPacket })

	server.SetSilent(true)
	rec.waitFor(t, 3*time.Second, func(e reliable.Event) bool { return e.Kind == reliable.EventTimeout })

	// 持续静默期间只报告一次
	time.Sleep(400 * time.Millisecond)
	if n := rec.count(reliable.EventTimeout); n != 1 {
		t.Errorf("超时事件期望 1 次，实际 %d", n)
	}
	if collector.GetSnapshot().HeartbeatsSent == 0 {
		t.Error("应已发送心跳")
	}
}

func TestTransportSendAfterClose(t *testing.T) {
	server, err := testserver.NewUDPServer()
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	rec := newRecorder()
	tr := dialLoopback(t, server.Addr(), reliable.Config{Metrics: metrics.NewCollector()}, rec)
	tr.Close()

	if err := tr.Send([]byte("late")); err != reliable.ErrClosed {
		t.Errorf("关闭后发送期望 ErrClosed，实际 %v", err)
	}
	if err := tr.ReadLoop(context.Background()); err != nil {
		t.Errorf("关闭后 ReadLoop 应直接返回，实际 %v", err)
	}
}

func TestTransportLargeMessageRoundTrip(t *testing.T) {
	server, err := testserver.NewUDPServer(testserver.WithEcho())
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	rec := newRecorder()
	tr := dialLoopback(t, server.Addr(), reliable.Config{Metrics: metrics.NewCollector()}, rec)

	for _, size := range []int{2000, 5000, 64 * 1024} {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i * 7)
		}
		if err := tr.Send(payload); err != nil {
			t.Fatalf("发送 %d 字节失败: %v", size, err)
		}
		e := rec.waitFor(t, 5*time.Second, func(e reliable.Event) bool {
			return e.Kind == reliable.EventPacket && len(e.Payload) == size
		})
		if !bytes.Equal(e.Payload, payload) {
			t.Errorf("%d 字节回显内容不一致", size)
		}
	}

	received := server.Received()
	if len(received) != 3 {
		t.Fatalf("服务器应收到 3 条完整消息，实际 %d", len(received))
	}
	if len(received[0]) != 2000 || len(received[2]) != 64*1024 {
		t.Errorf("服务器收到的消息长度不对: %d, %d", len(received[0]), len(received[2]))
	}
}

func TestTransportRejectsOversizedMessage(t *testing.T) {
	server, err := testserver.NewUDPServer()
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	rec := newRecorder()
	tr := dialLoopback(t, server.Addr(), reliable.Config{Metrics: metrics.NewCollector()}, rec)

	err = tr.Send(make([]byte, protocol.MaxMessageSize+1))
	if !errors.Is(err, protocol.ErrMessageTooLarge) {
		t.Errorf("超长消息期望 ErrMessageTooLarge，实际 %v", err)
	}
}

// 默认配置下读超时每秒触发一次，静默期间不能被当成读取失败
func TestTransportDefaultTimingSurvivesSilence(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过超时测试")
	}

	server, err := testserver.NewUDPServer(testserver.WithEcho())
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	conn, err := transport.ListenUDP(context.Background(), net.IPv4(127, 0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	mux := transport.NewUDPMux(conn, server.Addr())
	rec := newRecorder()
	tr, err := reliable.Dial(mux, server.Addr(), reliable.Config{Metrics: metrics.NewCollector()}, rec.handle)
	if err != nil {
		mux.Close()
		t.Fatalf("Dial 失败: %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	readErr := make(chan error, 1)
	go func() { readErr <- tr.ReadLoop(ctx) }()
	go tr.HeartbeatLoop(ctx)

	tr.Send([]byte("ping"))
	rec.waitFor(t, 3*time.Second, func(e reliable.Event) bool { return e.Kind == reliable.EventPacket })

	// 短于空闲超时的静默，跨过多次读超时
	server.SetSilent(true)
	select {
	case err := <-readErr:
		t.Fatalf("静默期间 ReadLoop 不应退出: %v", err)
	case <-time.After(2500 * time.Millisecond):
	}
	server.SetSilent(false)

	tr.Send([]byte("again"))
	rec.waitFor(t, 3*time.Second, func(e reliable.Event) bool { return string(e.Payload) == "again" })
	if n := rec.count(reliable.EventTimeout); n != 0 {
		t.Errorf("短暂静默不应超时，实际 %d 次", n)
	}

	// 超过默认空闲超时后报告超时，而不是读取错误
	server.SetSilent(true)
	rec.waitFor(t, 10*time.Second, func(e reliable.Event) bool { return e.Kind == reliable.EventTimeout })
	select {
	case err := <-readErr:
		t.Fatalf("超时后 ReadLoop 不应返回错误: %v", err)
	default:
	}
}
