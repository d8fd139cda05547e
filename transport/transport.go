package transport

import (
	"context"
	"fmt"
	"net"
)

// ListenUDP 在 ip 的临时端口上打开 UDP 套接字
func ListenUDP(ctx context.Context, ip net.IP) (*net.UDPConn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	addr := net.JoinHostPort(ip.String(), "0")
	pc, err := ListenConfig().ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("监听 %s 失败: %w", addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("意外的连接类型: %T", pc)
	}

	// 忽略错误，某些系统限制了缓冲区大小
	_ = conn.SetReadBuffer(4 * 1024 * 1024)
	_ = conn.SetWriteBuffer(4 * 1024 * 1024)
	return conn, nil
}

// RouteIP 返回通往 remote 的出口网卡地址。
// UDP 的 Dial 只做路由选择，不会发送任何数据。
func RouteIP(remote *net.UDPAddr) (net.IP, error) {
	conn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return nil, fmt.Errorf("无法确定到 %s 的本地地址: %w", remote, err)
	}
	defer conn.Close()

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("意外的地址类型: %T", conn.LocalAddr())
	}
	return local.IP, nil
}
