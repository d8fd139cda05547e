package socket

import (
	"bytes"
	"net"
)

// handshake 握手字面量约定：客户端发送 ClientHello，服务器以 ServerHello 作答。
// 两者都是普通负载，只有 UDP 绑定使用。
type handshake struct {
	clientHello []byte
	serverHello []byte
}

func newHandshake(cfg *Config) handshake {
	return handshake{
		clientHello: []byte(cfg.ClientHello),
		serverHello: []byte(cfg.ServerHello),
	}
}

// isServerHello 负载必须逐字节相等且来自服务器地址
func (h handshake) isServerHello(p Packet, server *net.UDPAddr) bool {
	return p.from(server) && bytes.Equal(p.Payload(), h.serverHello)
}
