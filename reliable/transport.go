// Package reliable 在客户端 UDP 端口上提供基于 KCP 的可靠数据报会话
//
// 每条 KCP 消息承载一个 protocol 帧。会话之外还负责心跳、空闲超时检测，
// 以及把陌生地址的数据报报告给上层。
package reliable

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/cykyes/duosock/internal/pool"
	"github.com/cykyes/duosock/internal/protocol"
	"github.com/cykyes/duosock/log"
	"github.com/cykyes/duosock/metrics"
	"github.com/cykyes/duosock/transport"
)

// EventKind 传输层事件类型
type EventKind int

const (
	// EventPacket 服务器发来的数据帧
	EventPacket EventKind = iota
	// EventStray 来自非服务器地址的数据报
	EventStray
	// EventConnect 首次出现的陌生地址
	EventConnect
	// EventTimeout 服务器空闲超时或主动关闭
	EventTimeout
)

func (k EventKind) String() string {
	switch k {
	case EventPacket:
		return "packet"
	case EventStray:
		return "stray"
	case EventConnect:
		return "connect"
	case EventTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Event 传输层事件
type Event struct {
	Kind    EventKind
	Addr    *net.UDPAddr
	Payload []byte
}

// Handler 接收传输层事件，可能被多个 goroutine 并发调用
type Handler func(Event)

// maxTrackedStrays 记录的陌生地址上限，超出后清空重新记录
const maxTrackedStrays = 1024

// ErrClosed 传输层已关闭
var ErrClosed = errors.New("reliable transport closed")

// Config 传输层配置
type Config struct {
	KCP               *KCPConfig
	Secret            string
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	Logger            log.Logger
	Metrics           *metrics.Collector
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.KCP == nil {
		out.KCP = DefaultKCPConfig()
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = 500 * time.Millisecond
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = 10 * out.HeartbeatInterval
	}
	if out.Logger == nil {
		out.Logger = log.Nop()
	}
	if out.Metrics == nil {
		out.Metrics = metrics.Global
	}
	return out
}

// Transport 到单一服务器的 KCP 会话
type Transport struct {
	cfg     Config
	mux     *transport.UDPMux
	session *kcp.UDPSession
	writer  *MessageWriter
	server  *net.UDPAddr
	handle  Handler

	lastSeen atomic.Int64
	idle     atomic.Bool

	strayMu sync.Mutex
	strays  map[string]struct{}

	closing chan struct{}
	once    sync.Once
}

// Dial 在 mux 的服务器方向虚拟连接上建立 KCP 会话。
// 调用前 mux 不应已启动；Dial 会安装陌生地址处理器并启动 mux。
func Dial(mux *transport.UDPMux, server *net.UDPAddr, cfg Config, handle Handler) (*Transport, error) {
	cfg = cfg.withDefaults()
	if err := cfg.KCP.Validate(); err != nil {
		return nil, err
	}
	if handle == nil {
		handle = func(Event) {}
	}

	block, err := BlockCrypt(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("创建 KCP 加密器失败: %w", err)
	}

	t := &Transport{
		cfg:     cfg,
		mux:     mux,
		server:  server,
		handle:  handle,
		strays:  make(map[string]struct{}),
		closing: make(chan struct{}),
	}
	t.lastSeen.Store(time.Now().UnixNano())

	mux.OnStray(t.handleStray)
	mux.Start()

	session, err := kcp.NewConn(server.String(), block, 0, 0, mux.ServerConn())
	if err != nil {
		return nil, fmt.Errorf("KCP 连接失败: %w", err)
	}
	ConfigureSession(session, cfg.KCP)
	t.session = session
	t.writer = NewMessageWriter(session, cfg.KCP)

	cfg.Logger.Debug("KCP 会话已建立: %s -> %s", mux.LocalAddr(), server)
	return t, nil
}

// Server 返回服务器地址
func (t *Transport) Server() *net.UDPAddr {
	return t.server
}

// LocalAddr 返回本地地址
func (t *Transport) LocalAddr() net.Addr {
	return t.mux.LocalAddr()
}

// Send 发送一条消息，超过单个分段时自动分片
func (t *Transport) Send(payload []byte) error {
	select {
	case <-t.closing:
		return ErrClosed
	default:
	}
	return t.writer.WriteMessage(payload)
}

// ReadLoop 读取 KCP 消息并分发事件，直到 ctx 结束或会话不可用
func (t *Transport) ReadLoop(ctx context.Context) error {
	bufPtr := pool.Get()
	defer pool.Put(bufPtr)
	buf := *bufPtr
	var reassembler protocol.Reassembler

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.closing:
			return nil
		default:
		}

		if err := t.session.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return err
		}
		n, err := t.session.Read(buf)
		if err != nil {
			// kcp-go 用 pkg/errors 包装超时，需要 errors.As 解开
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-t.closing:
				return nil
			default:
			}
			return fmt.Errorf("KCP 读取失败: %w", err)
		}

		frame, err := protocol.Decode(buf[:n])
		if err != nil {
			t.cfg.Logger.Debug("丢弃无效帧 (%d 字节): %v", n, err)
			continue
		}
		t.touch()

		switch {
		case protocol.IsDataFrame(frame.Type):
			msg, complete, err := reassembler.Feed(frame)
			if err != nil {
				t.cfg.Logger.Warn("丢弃不完整的消息: %v", err)
				continue
			}
			if complete {
				t.handle(Event{Kind: EventPacket, Addr: t.server, Payload: msg})
			}
		case frame.Type == protocol.FrameTypeHeartbeat:
			ts := protocol.GetTimestamp(frame.Payload)
			if err := t.writer.WriteFrame(protocol.BuildHeartbeatAckFrame(ts)); err != nil {
				t.cfg.Logger.Debug("心跳响应发送失败: %v", err)
			}
		case frame.Type == protocol.FrameTypeHeartbeatAck:
			t.cfg.Metrics.IncHeartbeatsAck()
		case frame.Type == protocol.FrameTypeGoodbye:
			t.cfg.Logger.Info("服务器 %s 关闭了会话", t.server)
			t.markIdle()
		default:
			t.cfg.Logger.Debug("未知帧类型: 0x%02x", frame.Type)
		}
	}
}

// HeartbeatLoop 定期发送心跳并检测空闲超时
func (t *Transport) HeartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.closing:
			return nil
		case now := <-ticker.C:
			if err := t.writer.WriteFrame(protocol.BuildHeartbeatFrame(now.UnixNano())); err != nil {
				t.cfg.Logger.Debug("心跳发送失败: %v", err)
			} else {
				t.cfg.Metrics.IncHeartbeatsSent()
			}

			last := time.Unix(0, t.lastSeen.Load())
			if now.Sub(last) > t.cfg.IdleTimeout {
				t.markIdle()
			}
		}
	}
}

// touch 记录服务器活动；超时后重新收到流量即恢复
func (t *Transport) touch() {
	t.lastSeen.Store(time.Now().UnixNano())
	if t.idle.CompareAndSwap(true, false) {
		t.cfg.Logger.Info("服务器 %s 恢复响应", t.server)
	}
}

// markIdle 每次进入空闲状态只报告一次超时
func (t *Transport) markIdle() {
	if t.idle.CompareAndSwap(false, true) {
		t.cfg.Logger.Info("服务器 %s 心跳超时", t.server)
		t.handle(Event{Kind: EventTimeout, Addr: t.server})
	}
}

func (t *Transport) handleStray(p transport.Packet) {
	key := p.Addr.String()

	t.strayMu.Lock()
	_, seen := t.strays[key]
	if !seen {
		if len(t.strays) >= maxTrackedStrays {
			t.strays = make(map[string]struct{})
		}
		t.strays[key] = struct{}{}
	}
	t.strayMu.Unlock()

	if !seen {
		t.handle(Event{Kind: EventConnect, Addr: p.Addr})
	}
	t.handle(Event{Kind: EventStray, Addr: p.Addr, Payload: p.Data})
}

// Close 通知服务器并关闭会话与底层端口
func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		if t.session != nil {
			_ = t.writer.WriteFrame(protocol.BuildGoodbyeFrame())
			// 给 KCP 一个刷新窗口把关闭帧发出去
			time.Sleep(time.Duration(t.cfg.KCP.Interval) * time.Millisecond)
		}
		close(t.closing)
		if t.session != nil {
			err = t.session.Close()
		}
		if muxErr := t.mux.Close(); err == nil {
			err = muxErr
		}
	})
	return err
}
