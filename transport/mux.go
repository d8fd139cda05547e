package transport

import (
	"net"
	"sync"
	"time"

	"github.com/cykyes/duosock/internal/pool"
)

// Packet 表示一个接收到的 UDP 数据包
type Packet struct {
	Data []byte
	Addr *net.UDPAddr
}

// StrayHandler 处理来自非服务器地址的数据包
type StrayHandler func(Packet)

// UDPMux 将客户端的 UDP 端口按来源拆分为两路：
// 来自服务器地址的包交给 KCP 会话，其余（陌生地址）交给 StrayHandler。
// KCP 客户端会话会静默丢弃陌生地址的包，拆分后上层才能把它们报告为协议错误。
type UDPMux struct {
	conn       *net.UDPConn
	server     *net.UDPAddr
	serverConn *VirtualPacketConn

	mu      sync.RWMutex
	onStray StrayHandler

	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewUDPMux 创建一个新的 UDP 复用器
func NewUDPMux(conn *net.UDPConn, server *net.UDPAddr) *UDPMux {
	mux := &UDPMux{
		conn:   conn,
		server: server,
		closed: make(chan struct{}),
	}
	// 缓冲区设为 1024，满时丢弃，由 KCP 重传
	mux.serverConn = newVirtualPacketConn(mux, 1024)
	return mux
}

// OnStray 设置陌生地址数据包的处理器，需在 Start 之前调用
func (m *UDPMux) OnStray(handler StrayHandler) {
	m.mu.Lock()
	m.onStray = handler
	m.mu.Unlock()
}

// Start 启动读取循环
func (m *UDPMux) Start() {
	m.wg.Add(1)
	go m.readLoop()
}

func (m *UDPMux) readLoop() {
	defer m.wg.Done()

	bufPtr := pool.Get()
	defer pool.Put(bufPtr)
	buf := *bufPtr

	for {
		n, addr, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-m.closed:
				return
			default:
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			// 连接已不可用，通知 KCP 侧
			m.serverConn.safeClose()
			return
		}

		packet := Packet{
			Data: pool.Copy(buf, n),
			Addr: addr,
		}

		if SameAddr(addr, m.server) {
			select {
			case m.serverConn.readChan <- packet:
			default:
				// 缓冲区满，丢弃
			}
			continue
		}

		m.mu.RLock()
		handler := m.onStray
		m.mu.RUnlock()
		if handler != nil {
			handler(packet)
		}
	}
}

// SameAddr 比较两个 UDP 地址的 IP 与端口
func SameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

// Close 关闭复用器及底层连接
func (m *UDPMux) Close() error {
	var err error
	m.once.Do(func() {
		close(m.closed)
		err = m.conn.Close()
		m.wg.Wait()
		m.serverConn.safeClose()
	})
	return err
}

// ServerConn 获取服务器方向的虚拟连接（交给 KCP 会话使用）
func (m *UDPMux) ServerConn() net.PacketConn {
	return m.serverConn
}

// LocalAddr 返回本地地址
func (m *UDPMux) LocalAddr() net.Addr {
	return m.conn.LocalAddr()
}

// VirtualPacketConn 实现 net.PacketConn 接口
type VirtualPacketConn struct {
	mux      *UDPMux
	readChan chan Packet

	mu       sync.Mutex
	deadline time.Time
	once     sync.Once
}

func newVirtualPacketConn(mux *UDPMux, bufferSize int) *VirtualPacketConn {
	return &VirtualPacketConn{
		mux:      mux,
		readChan: make(chan Packet, bufferSize),
	}
}

func (v *VirtualPacketConn) safeClose() {
	v.once.Do(func() {
		close(v.readChan)
	})
}

// ReadFrom 从通道读取数据
func (v *VirtualPacketConn) ReadFrom(p []byte) (n int, addr net.Addr, err error) {
	v.mu.Lock()
	deadline := v.deadline
	v.mu.Unlock()

	if !deadline.IsZero() && time.Now().After(deadline) {
		return 0, nil, timeoutError{}
	}

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case packet, ok := <-v.readChan:
		if !ok {
			return 0, nil, net.ErrClosed
		}
		n = copy(p, packet.Data)
		return n, packet.Addr, nil
	case <-timeout:
		return 0, nil, timeoutError{}
	case <-v.mux.closed:
		return 0, nil, net.ErrClosed
	}
}

// WriteTo 直接写入底层的 UDP 连接
func (v *VirtualPacketConn) WriteTo(p []byte, addr net.Addr) (n int, err error) {
	return v.mux.conn.WriteTo(p, addr)
}

// Close 不做任何事，真正的关闭由 Mux 控制
func (v *VirtualPacketConn) Close() error {
	return nil
}

// LocalAddr 返回 Mux 的地址
func (v *VirtualPacketConn) LocalAddr() net.Addr {
	return v.mux.LocalAddr()
}

func (v *VirtualPacketConn) SetDeadline(t time.Time) error {
	return v.SetReadDeadline(t)
}

func (v *VirtualPacketConn) SetReadDeadline(t time.Time) error {
	v.mu.Lock()
	v.deadline = t
	v.mu.Unlock()
	return nil
}

func (v *VirtualPacketConn) SetWriteDeadline(t time.Time) error {
	return v.mux.conn.SetWriteDeadline(t)
}

// SetReadBuffer 设置底层读取缓冲区大小
func (v *VirtualPacketConn) SetReadBuffer(bytes int) error {
	return v.mux.conn.SetReadBuffer(bytes)
}

// SetWriteBuffer 设置底层写入缓冲区大小
func (v *VirtualPacketConn) SetWriteBuffer(bytes int) error {
	return v.mux.conn.SetWriteBuffer(bytes)
}

// timeoutError 实现 net.Error 接口
type timeoutError struct{}

func (e timeoutError) Error() string   { return "i/o timeout" }
func (e timeoutError) Timeout() bool   { return true }
func (e timeoutError) Temporary() bool { return true }
