package socket

import (
	"net"

	"github.com/cykyes/duosock/transport"
)

// Packet 一个数据报：对端地址与负载。构造后不可变。
type Packet struct {
	addr    *net.UDPAddr
	payload []byte
}

// NewPacket 创建数据包，负载会被复制
func NewPacket(addr *net.UDPAddr, payload []byte) Packet {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return Packet{addr: addr, payload: buf}
}

// Addr 返回对端地址
func (p Packet) Addr() *net.UDPAddr {
	return p.addr
}

// Payload 返回负载，调用方不应修改
func (p Packet) Payload() []byte {
	return p.payload
}

func (p Packet) from(addr *net.UDPAddr) bool {
	return transport.SameAddr(p.addr, addr)
}

// EventKind 事件类型
type EventKind int

const (
	// EventNone 本次轮询没有事件，不是错误
	EventNone EventKind = iota
	// EventPacket 收到数据包
	EventPacket
	// EventConnection 服务器完成握手
	EventConnection
	// EventDisconnection 连接断开
	EventDisconnection
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "None"
	case EventPacket:
		return "Packet"
	case EventConnection:
		return "Connection"
	case EventDisconnection:
		return "Disconnection"
	default:
		return "Unknown"
	}
}

// Event 套接字事件
type Event struct {
	Kind   EventKind
	Packet Packet
	// Cause 仅在协商失败合成的 Disconnection 上设置
	Cause error
}
