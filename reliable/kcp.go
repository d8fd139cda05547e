package reliable

import (
	"crypto/sha1"
	"errors"
	"time"

	"github.com/xtaci/kcp-go/v5"
	"golang.org/x/crypto/pbkdf2"
)

// KCPConfig KCP 配置参数
type KCPConfig struct {
	// NoDelay 模式: 0=关闭, 1=开启
	NoDelay int
	// Interval 内部更新间隔(ms)
	Interval int
	// Resend 快速重传触发次数，0=关闭
	Resend int
	// NC 拥塞控制：0=正常, 1=关闭
	NC int
	// SndWnd 发送窗口大小
	SndWnd int
	// RcvWnd 接收窗口大小
	RcvWnd int
	// MTU 最大传输单元
	MTU int
	// StreamMode 流模式。消息边界由 KCP 保留，必须为 false
	StreamMode bool
}

// DefaultKCPConfig 返回低延迟的消息模式配置
func DefaultKCPConfig() *KCPConfig {
	return &KCPConfig{
		NoDelay:    1,     // 实时应用，开启 nodelay
		Interval:   10,    // 10ms 更新间隔
		Resend:     2,     // 2 次 ACK 后快速重传
		NC:         1,     // 关闭拥塞控制
		SndWnd:     128,   // 发送窗口
		RcvWnd:     128,   // 接收窗口
		MTU:        1350,  // MTU（留余量给加密头）
		StreamMode: false, // 消息模式
	}
}

// Validate 检查配置是否可用
func (c *KCPConfig) Validate() error {
	var errs []error
	if c.Interval < 10 || c.Interval > 5000 {
		errs = append(errs, errors.New("KCP Interval 必须在 10-5000ms 之间"))
	}
	if c.SndWnd <= 0 || c.RcvWnd <= 0 {
		errs = append(errs, errors.New("KCP 窗口大小必须大于 0"))
	}
	if c.MTU < 50 || c.MTU > 1500 {
		errs = append(errs, errors.New("KCP MTU 必须在 50-1500 之间"))
	}
	if c.StreamMode {
		errs = append(errs, errors.New("KCP 必须使用消息模式"))
	}
	return errors.Join(errs...)
}

// ConfigureSession 应用 KCP 配置到会话
func ConfigureSession(session *kcp.UDPSession, cfg *KCPConfig) {
	if cfg == nil {
		cfg = DefaultKCPConfig()
	}

	session.SetNoDelay(cfg.NoDelay, cfg.Interval, cfg.Resend, cfg.NC)
	session.SetWindowSize(cfg.SndWnd, cfg.RcvWnd)
	session.SetMtu(cfg.MTU)
	session.SetStreamMode(cfg.StreamMode)

	session.SetReadDeadline(time.Time{})
	session.SetWriteDeadline(time.Time{})
}

const (
	keySalt       = "duosock-kcp"
	keyIterations = 4096
	keyLength     = 32
)

// BlockCrypt 根据共享密钥派生 AES 加密器；密钥为空时不加密
func BlockCrypt(secret string) (kcp.BlockCrypt, error) {
	if secret == "" {
		return nil, nil
	}
	key := pbkdf2.Key([]byte(secret), []byte(keySalt), keyIterations, keyLength, sha1.New)
	return kcp.NewAESBlockCrypt(key)
}
