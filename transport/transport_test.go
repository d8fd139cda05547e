package transport

import (
	"context"
	"net"
	"testing"
)

func TestListenConfig(t *testing.T) {
	lc := ListenConfig()
	if lc == nil {
		t.Fatal("ListenConfig 返回 nil")
	}
}

func TestListenUDPEphemeralPort(t *testing.T) {
	conn, err := ListenUDP(context.Background(), net.IPv4(127, 0, 0, 1))
	if err != nil {
		t.Fatalf("ListenUDP 失败: %v", err)
	}
	defer conn.Close()

	addr := conn.LocalAddr().(*net.UDPAddr)
	if addr.Port == 0 {
		t.Error("应分配到非零端口")
	}
	if !addr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Errorf("绑定地址期望 127.0.0.1，实际 %s", addr.IP)
	}
}

func TestRouteIPLoopback(t *testing.T) {
	ip, err := RouteIP(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 14191})
	if err != nil {
		t.Fatalf("RouteIP 失败: %v", err)
	}
	if !ip.IsLoopback() {
		t.Errorf("到回环地址的出口应为回环地址，实际 %s", ip)
	}
}
