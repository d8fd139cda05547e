package socket

import (
	"net/http"
	"testing"
	"time"

	"github.com/cykyes/duosock/internal/testserver"
	"github.com/cykyes/duosock/metrics"
)

func connectRTC(t *testing.T, addr string, opts ...Option) *ClientSocket {
	t.Helper()
	base := []Option{
		WithBinding(BindingWebRTC),
		WithICEServers(),
		WithLoopbackCandidates(true),
		WithMetrics(metrics.NewCollector()),
	}
	s, err := Connect(addr, append(base, opts...)...)
	if err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRTCEndToEndPingPong(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过 WebRTC 端到端测试")
	}

	server, err := testserver.NewRTCServer()
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	s := connectRTC(t, server.Addr())
	sender := s.Sender()

	deadline := time.Now().Add(10 * time.Second)
	sent := false
	for time.Now().Before(deadline) {
		if !sent {
			// 通道打开前发送失败，由 Receive 重发
			sent = sender.SendPayload([]byte("ping")) == nil || sender.Pending() > 0
		}
		ev, err := s.Receive()
		if err != nil {
			t.Fatalf("Receive 出错: %v", err)
		}
		if ev.Kind == EventPacket {
			if string(ev.Packet.Payload()) != "pong" {
				t.Fatalf("期望 pong，实际 %q", ev.Packet.Payload())
			}
			if server.Requests() != 1 {
				t.Errorf("信令请求期望 1 次，实际 %d", server.Requests())
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("未在期限内收到 pong")
}

func TestRTCEndToEndMalformedSignaling(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过 WebRTC 端到端测试")
	}

	server, err := testserver.NewRTCServer(testserver.WithRawBody("{broken"))
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	s := connectRTC(t, server.Addr())

	deadline := time.Now().Add(5 * time.Second)
	for server.Requests() == 0 && time.Now().Before(deadline) {
		s.Receive()
		time.Sleep(10 * time.Millisecond)
	}
	if server.Requests() != 1 {
		t.Fatalf("期望收到 1 次信令请求，实际 %d", server.Requests())
	}

	for i := 0; i < 100; i++ {
		ev, err := s.Receive()
		if err != nil || ev.Kind != EventNone {
			t.Fatalf("期望 None，实际 %s (%v)", ev.Kind, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if offers := server.Offers(); len(offers) != 1 || offers[0] == "" {
		t.Error("服务器应收到非空的 offer")
	}
}

func TestRTCEndToEndStatusError(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过 WebRTC 端到端测试")
	}

	server, err := testserver.NewRTCServer(testserver.WithStatus(http.StatusNotFound))
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	s := connectRTC(t, server.Addr(), WithSurfaceNegotiationFailure(true))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ev, err := s.Receive()
		if err != nil {
			t.Fatal(err)
		}
		if ev.Kind == EventDisconnection {
			if ev.Cause == nil {
				t.Error("Disconnection 应携带原因")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("未收到 Disconnection")
}
