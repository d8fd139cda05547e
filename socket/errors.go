package socket

import "errors"

var (
	// ErrTransportClosed 传输层已永久关闭，套接字不可再用
	ErrTransportClosed = errors.New("transport closed")

	// ErrUnknownSender 收到来自非服务器地址的数据报
	ErrUnknownSender = errors.New("unknown sender")
	// ErrUnexpectedConnect 传输层报告了意外的对端连接
	ErrUnexpectedConnect = errors.New("unexpected connect from peer")

	// ErrSenderClosed 发送队列的消费端已关闭
	ErrSenderClosed = errors.New("sender closed")
	// ErrChannelNotOpen 数据通道尚未打开或已关闭
	ErrChannelNotOpen = errors.New("data channel not open")
	// ErrAddressMismatch 目标地址不是服务器地址
	ErrAddressMismatch = errors.New("packet not addressed to server")
	// ErrPacketTooLarge 负载超过当前绑定的上限
	ErrPacketTooLarge = errors.New("packet too large")

	// ErrNegotiation 协商失败，仅作为 Disconnection 的 Cause 出现
	ErrNegotiation = errors.New("negotiation failed")
)

// IsFatal 报告 err 是否表示传输层已不可用
func IsFatal(err error) bool {
	return errors.Is(err, ErrTransportClosed)
}

// IsProtocolError 报告 err 是否为可继续轮询的协议错误
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrUnknownSender) || errors.Is(err, ErrUnexpectedConnect)
}
