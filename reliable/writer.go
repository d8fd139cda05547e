package reliable

import (
	"fmt"
	"sync"

	"github.com/xtaci/kcp-go/v5"

	"github.com/cykyes/duosock/internal/protocol"
)

const (
	// kcpOverhead KCP 分段头
	kcpOverhead = 24
	// cryptOverhead kcp-go 加密时的 nonce 与 CRC
	cryptOverhead = 16 + 4
)

// FragmentSize 返回单个帧能承载的最大负载，使一帧恰好是一个 KCP 分段。
// 总是预留加密头，两端不必知道对方是否加密。
func FragmentSize(cfg *KCPConfig) int {
	if cfg == nil {
		cfg = DefaultKCPConfig()
	}
	return cfg.MTU - kcpOverhead - cryptOverhead - protocol.HeaderSize
}

// MessageWriter 串行化会话上的写入，分片消息的帧之间不会插入其他数据帧
type MessageWriter struct {
	mu       sync.Mutex
	session  *kcp.UDPSession
	fragment int
}

// NewMessageWriter 创建写入器；cfg 为 nil 时按默认 KCP 配置分片
func NewMessageWriter(session *kcp.UDPSession, cfg *KCPConfig) *MessageWriter {
	return &MessageWriter{session: session, fragment: FragmentSize(cfg)}
}

// WriteMessage 发送一条应用消息，必要时拆成多个分片帧
func (w *MessageWriter) WriteMessage(payload []byte) error {
	frames, err := protocol.BuildDataFrames(payload, w.fragment)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for i, frame := range frames {
		if _, err := w.session.Write(frame); err != nil {
			return fmt.Errorf("KCP 写入失败 (帧 %d/%d): %w", i+1, len(frames), err)
		}
	}
	return nil
}

// WriteFrame 发送一个控制帧
func (w *MessageWriter) WriteFrame(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.session.Write(frame)
	return err
}
