// Package testserver 提供最小化的服务端实现，仅用于端到端测试客户端套接字
package testserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/cykyes/duosock/internal/protocol"
	"github.com/cykyes/duosock/log"
	"github.com/cykyes/duosock/reliable"
	"github.com/cykyes/duosock/transport"
)

// 默认握手字面量，与 socket.DefaultConfig 保持一致
const (
	DefaultClientHello = "duosock:client-hello"
	DefaultServerHello = "duosock:server-hello"
)

type udpOptions struct {
	clientHello string
	serverHello string
	secret      string
	echo        bool
	logger      log.Logger
}

// UDPOption UDP 服务器选项
type UDPOption func(*udpOptions)

// WithHello 设置握手字面量
func WithHello(client, server string) UDPOption {
	return func(o *udpOptions) {
		o.clientHello = client
		o.serverHello = server
	}
}

// WithSecret 启用 KCP 加密
func WithSecret(secret string) UDPOption {
	return func(o *udpOptions) {
		o.secret = secret
	}
}

// WithEcho 原样回显除 ping 外的数据帧
func WithEcho() UDPOption {
	return func(o *udpOptions) {
		o.echo = true
	}
}

// WithUDPLogger 设置日志
func WithUDPLogger(l log.Logger) UDPOption {
	return func(o *udpOptions) {
		o.logger = l
	}
}

// UDPServer 回环地址上的 KCP 服务器：
// 收到客户端 hello 回复服务端 hello，收到 "ping" 回复 "pong"，并响应心跳。
type UDPServer struct {
	opts     udpOptions
	conn     *net.UDPConn
	listener *kcp.Listener
	addr     *net.UDPAddr

	mu       sync.Mutex
	sessions []*reliable.MessageWriter
	received [][]byte

	silent  atomic.Bool
	closing chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewUDPServer 在 127.0.0.1 的临时端口上启动服务器
func NewUDPServer(opts ...UDPOption) (*UDPServer, error) {
	o := udpOptions{
		clientHello: DefaultClientHello,
		serverHello: DefaultServerHello,
		logger:      log.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	conn, err := transport.ListenUDP(context.Background(), net.IPv4(127, 0, 0, 1))
	if err != nil {
		return nil, err
	}
	block, err := reliable.BlockCrypt(o.secret)
	if err != nil {
		conn.Close()
		return nil, err
	}
	listener, err := kcp.ServeConn(block, 0, 0, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("KCP ServeConn 失败: %w", err)
	}

	s := &UDPServer{
		opts:     o,
		conn:     conn,
		listener: listener,
		addr:     conn.LocalAddr().(*net.UDPAddr),
		closing:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr 返回服务器地址
func (s *UDPServer) Addr() *net.UDPAddr {
	return s.addr
}

// SetSilent 静默时不再回复任何帧（包括心跳），用于模拟服务器失联
func (s *UDPServer) SetSilent(silent bool) {
	s.silent.Store(silent)
}

// Received 返回收到的数据帧负载副本
func (s *UDPServer) Received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.received))
	copy(out, s.received)
	return out
}

// SessionCount 返回已接受的会话数
func (s *UDPServer) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Broadcast 向所有会话发送一个数据帧
func (s *UDPServer) Broadcast(payload []byte) {
	s.mu.Lock()
	writers := append([]*reliable.MessageWriter(nil), s.sessions...)
	s.mu.Unlock()
	for _, w := range writers {
		_ = w.WriteMessage(payload)
	}
}

func (s *UDPServer) acceptLoop() {
	defer s.wg.Done()
	for {
		sess, err := s.listener.AcceptKCP()
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
			}
			s.opts.logger.Warn("接受 KCP 会话失败: %v", err)
			return
		}
		reliable.ConfigureSession(sess, nil)
		w := reliable.NewMessageWriter(sess, nil)

		s.mu.Lock()
		s.sessions = append(s.sessions, w)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(sess, w)
	}
}

func (s *UDPServer) serve(sess *kcp.UDPSession, w *reliable.MessageWriter) {
	defer s.wg.Done()
	defer sess.Close()

	buf := make([]byte, 65536)
	var reassembler protocol.Reassembler
	for {
		select {
		case <-s.closing:
			return
		default:
		}
		sess.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := sess.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.opts.logger.Debug("会话 %s 读取结束: %v", sess.RemoteAddr(), err)
			return
		}

		frame, err := protocol.Decode(buf[:n])
		if err != nil {
			continue
		}
		if s.silent.Load() {
			continue
		}

		switch {
		case protocol.IsDataFrame(frame.Type):
			payload, complete, err := reassembler.Feed(frame)
			if err != nil || !complete {
				continue
			}
			s.mu.Lock()
			s.received = append(s.received, payload)
			s.mu.Unlock()

			switch string(payload) {
			case s.opts.clientHello:
				_ = w.WriteMessage([]byte(s.opts.serverHello))
			case "ping":
				_ = w.WriteMessage([]byte("pong"))
			default:
				if s.opts.echo {
					_ = w.WriteMessage(payload)
				}
			}
		case frame.Type == protocol.FrameTypeHeartbeat:
			_ = w.WriteFrame(protocol.BuildHeartbeatAckFrame(protocol.GetTimestamp(frame.Payload)))
		case frame.Type == protocol.FrameTypeGoodbye:
			s.opts.logger.Debug("客户端 %s 关闭会话", sess.RemoteAddr())
			return
		}
	}
}

// Close 关闭服务器
func (s *UDPServer) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closing)
		err = s.listener.Close()
		// ServeConn 不持有底层连接
		s.conn.Close()
		s.wg.Wait()
	})
	return err
}
