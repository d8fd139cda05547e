// Package socket 提供面向单一服务器的客户端数据报套接字。
//
// 同一套轮询式 API 运行在两种传输之上：基于 KCP 的 UDP 绑定（后台
// goroutine 驱动，Receive 阻塞）与基于数据通道的 WebRTC 绑定（回调在
// Receive 调用方执行，Receive 从不阻塞）。发送失败的数据包由下一次
// Receive 自动重发。
package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/cykyes/duosock/log"
	"github.com/cykyes/duosock/metrics"
)

// binding 传输绑定
type binding interface {
	sendPath
	// next 取下一个事件；UDP 阻塞等待，WebRTC 为空时返回 EventNone
	next(ctx context.Context) (Event, error)
	// classifies 报告是否需要识别握手字面量
	classifies() bool
	localAddr() net.Addr
	close() error
}

// ClientSocket 客户端套接字，生命周期内只持有一个传输绑定
type ClientSocket struct {
	cfg     *Config
	server  *net.UDPAddr
	outbox  *DroppedOutbox
	sender  *MessageSender
	binding binding
	logger  log.Logger
	metrics *metrics.Collector

	// 握手识别状态，只在 Receive 中访问
	recvMu    sync.Mutex
	connected bool
	handshake handshake

	closeOnce sync.Once
	closeErr  error
}

// Connect 连接服务器，立即返回；协商在后台进行
func Connect(serverAddress string, opts ...Option) (*ClientSocket, error) {
	return ConnectContext(context.Background(), serverAddress, opts...)
}

// ConnectContext 与 Connect 相同，ctx 只约束同步的初始化阶段
func ConnectContext(ctx context.Context, serverAddress string, opts ...Option) (*ClientSocket, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global
	}

	server, err := net.ResolveUDPAddr("udp", serverAddress)
	if err != nil {
		return nil, fmt.Errorf("解析服务器地址失败: %w", err)
	}

	outbox := newDroppedOutbox(cfg.MaxSendAttempts, cfg.Logger, cfg.Metrics)

	var b binding
	switch cfg.Binding {
	case BindingWebRTC:
		b, err = newRTCBinding(cfg, server, outbox)
	default:
		b, err = newUDPBinding(ctx, cfg, server, outbox)
	}
	if err != nil {
		return nil, err
	}

	s := newClientSocket(cfg, server, outbox, b)
	s.logger.Info("已连接 %s (%s)", server, cfg.Binding)
	return s, nil
}

func newClientSocket(cfg *Config, server *net.UDPAddr, outbox *DroppedOutbox, b binding) *ClientSocket {
	return &ClientSocket{
		cfg:    cfg,
		server: server,
		outbox: outbox,
		sender: &MessageSender{
			server:  server,
			path:    b,
			outbox:  outbox,
			logger:  cfg.Logger,
			metrics: cfg.Metrics,
		},
		binding:   b,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		handshake: newHandshake(cfg),
	}
}

// Receive 重发积压的数据包，然后取一个事件
func (s *ClientSocket) Receive() (Event, error) {
	return s.ReceiveContext(context.Background())
}

// ReceiveContext 与 Receive 相同；UDP 绑定下 ctx 可中断阻塞等待
func (s *ClientSocket) ReceiveContext(ctx context.Context) (Event, error) {
	s.drain()

	for {
		ev, err := s.binding.next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				s.metrics.IncErrorsTotal()
			}
			return Event{}, err
		}

		out, deliver := s.classify(ev)
		if deliver {
			return out, nil
		}
	}
}

// drain 重发 DroppedOutbox 中的快照；失败只记录日志，数据包由失败路径重新入队
func (s *ClientSocket) drain() {
	entries := s.outbox.takeAll()
	for _, entry := range entries {
		s.metrics.IncSendRetries()
		if err := s.sender.send(entry); err != nil {
			s.logger.Debug("重发失败: %v", err)
		}
	}
}

// classify 识别握手字面量；返回 false 表示该事件被吞掉
func (s *ClientSocket) classify(ev Event) (Event, bool) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	switch ev.Kind {
	case EventPacket:
		if !s.binding.classifies() {
			return ev, true
		}
		if s.handshake.isServerHello(ev.Packet, s.server) {
			if s.connected {
				s.logger.Debug("忽略重复的服务器握手")
				return Event{}, false
			}
			s.connected = true
			s.metrics.IncConnectionsTotal()
			return Event{Kind: EventConnection, Packet: ev.Packet}, true
		}
		if s.cfg.GateUntilConnected && !s.connected {
			s.metrics.IncPacketsGated()
			s.logger.Debug("握手完成前丢弃数据包 (%d 字节)", len(ev.Packet.Payload()))
			return Event{}, false
		}
		return ev, true

	case EventDisconnection:
		s.connected = false
		s.metrics.IncDisconnectsTotal()
		return ev, true

	default:
		return ev, true
	}
}

// Sender 返回共享发送路径与 DroppedOutbox 的发送器副本
func (s *ClientSocket) Sender() *MessageSender {
	return s.sender.Clone()
}

// Send 等价于 Sender().Send
func (s *ClientSocket) Send(p Packet) error {
	return s.sender.Send(p)
}

// ServerAddress 返回服务器地址
func (s *ClientSocket) ServerAddress() *net.UDPAddr {
	return s.server
}

// LocalAddr 返回本地 UDP 地址，WebRTC 绑定返回 nil
func (s *ClientSocket) LocalAddr() net.Addr {
	return s.binding.localAddr()
}

// Binding 返回传输绑定类型
func (s *ClientSocket) Binding() BindingKind {
	return s.cfg.Binding
}

// Metrics 返回指标快照
func (s *ClientSocket) Metrics() metrics.Snapshot {
	return s.metrics.GetSnapshot()
}

// Close 停止后台任务并释放传输资源，可重复调用。
// 之后 UDP 绑定的 Receive 在取完剩余事件后返回 ErrTransportClosed，
// WebRTC 绑定的 Receive 返回 EventNone。
func (s *ClientSocket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.binding.close()
		s.logger.Info("已关闭与 %s 的连接", s.server)
	})
	return s.closeErr
}
