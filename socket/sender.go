package socket

import (
	"fmt"
	"net"

	"github.com/cykyes/duosock/log"
	"github.com/cykyes/duosock/metrics"
)

// sendPath 绑定的发送路径
type sendPath interface {
	submit(entry outboxEntry) error
	// maxPayload 单个数据包的负载上限
	maxPayload() int
}

// MessageSender 向服务器发送数据包。
// 副本共享发送路径与 DroppedOutbox，可与 Receive 并发使用。
type MessageSender struct {
	server  *net.UDPAddr
	path    sendPath
	outbox  *DroppedOutbox
	logger  log.Logger
	metrics *metrics.Collector
}

// Send 提交数据包。失败时数据包进入 DroppedOutbox 并返回错误，
// Sender 自身不重试，由下一次 Receive 重发。
// 超过绑定负载上限的数据包直接返回 ErrPacketTooLarge。
func (s *MessageSender) Send(p Packet) error {
	if !p.from(s.server) {
		return fmt.Errorf("%w: %v", ErrAddressMismatch, p.Addr())
	}
	// 超长数据包重发也不会成功，不进入 DroppedOutbox
	if limit := s.path.maxPayload(); len(p.Payload()) > limit {
		return fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, len(p.Payload()), limit)
	}
	return s.send(outboxEntry{packet: p})
}

// SendPayload 以服务器地址构造数据包并发送
func (s *MessageSender) SendPayload(payload []byte) error {
	return s.Send(NewPacket(s.server, payload))
}

func (s *MessageSender) send(entry outboxEntry) error {
	if err := s.path.submit(entry); err != nil {
		s.outbox.reject(entry, err)
		return err
	}
	return nil
}

// Clone 返回共享状态的副本
func (s *MessageSender) Clone() *MessageSender {
	c := *s
	return &c
}

// Pending 返回等待重发的数据包数量
func (s *MessageSender) Pending() int {
	return s.outbox.Len()
}
