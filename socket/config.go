package socket

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/cykyes/duosock/log"
	"github.com/cykyes/duosock/metrics"
	"github.com/cykyes/duosock/reliable"
)

// BindingKind 传输绑定类型
type BindingKind int

const (
	// BindingUDP 基于 KCP 的可靠数据报传输，由后台 goroutine 驱动
	BindingUDP BindingKind = iota
	// BindingWebRTC 基于数据通道的协作式传输，回调在 Receive 调用方执行
	BindingWebRTC
)

func (b BindingKind) String() string {
	switch b {
	case BindingUDP:
		return "udp"
	case BindingWebRTC:
		return "webrtc"
	default:
		return "unknown"
	}
}

// ParseBinding 解析绑定名称
func ParseBinding(s string) (BindingKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "udp", "kcp":
		return BindingUDP, nil
	case "webrtc", "rtc":
		return BindingWebRTC, nil
	default:
		return BindingUDP, errors.New("未知传输类型: " + s)
	}
}

// Config 客户端套接字配置
type Config struct {
	// 传输绑定，建立后不可更换
	Binding BindingKind

	// 心跳间隔（UDP）
	HeartbeatInterval time.Duration

	// 多久没收到服务器任何帧视为断开（UDP）
	IdleTimeout time.Duration

	// 握手字面量（UDP）
	ClientHello string
	ServerHello string

	// 本地绑定地址，nil 表示使用通往服务器的出口网卡地址（UDP）
	BindAddress net.IP

	// KCP 配置（nil 则使用默认消息模式配置）
	KCPConfig *reliable.KCPConfig

	// KCP 共享密钥，为空时不加密
	Secret string

	// 信令路径（WebRTC）
	SignalingPath string

	// ICE 服务器地址（WebRTC）
	ICEServers []string

	// 是否收集回环地址候选，仅用于本机测试（WebRTC）
	LoopbackCandidates bool

	// 发送信令前是否等待 ICE 收集完成（WebRTC）
	WaitForICEGathering bool

	// 信令请求超时，0 表示不限（WebRTC）
	SignalingTimeout time.Duration

	// 信令 HTTP 客户端，nil 使用 http.DefaultClient（WebRTC）
	HTTPClient *http.Client

	// 单个数据包的最大发送次数，0 表示无限重试
	MaxSendAttempts int

	// 是否在收到 Connection 之前丢弃数据包（UDP）
	GateUntilConnected bool

	// 协商失败时是否推送带原因的 Disconnection，而非仅记录日志（WebRTC）
	SurfaceNegotiationFailure bool

	// 日志记录器，默认静默（NopLogger）
	Logger log.Logger

	// 指标收集器，nil 使用 metrics.Global
	Metrics *metrics.Collector

	// 追踪提供者，nil 使用全局 TracerProvider
	TracerProvider trace.TracerProvider
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Binding: BindingUDP,

		HeartbeatInterval: 500 * time.Millisecond,
		IdleTimeout:       5 * time.Second,
		ClientHello:       "duosock:client-hello",
		ServerHello:       "duosock:server-hello",

		SignalingPath:       "/new_rtc_session",
		ICEServers:          []string{"stun:stun.l.google.com:19302"},
		WaitForICEGathering: true,

		Logger: log.Nop(),
	}
}

// Validate 验证配置参数的有效性
func (c *Config) Validate() error {
	var errs []error

	if c.Binding != BindingUDP && c.Binding != BindingWebRTC {
		errs = append(errs, errors.New("未知的传输绑定"))
	}

	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("HeartbeatInterval must be positive"))
	}

	// 空闲超时应至少为心跳间隔的 2 倍
	if c.IdleTimeout < 2*c.HeartbeatInterval {
		errs = append(errs, errors.New("IdleTimeout should be at least 2x HeartbeatInterval"))
	}

	if c.ClientHello == "" || c.ServerHello == "" {
		errs = append(errs, errors.New("握手字面量不能为空"))
	}
	if c.ClientHello == c.ServerHello {
		errs = append(errs, errors.New("ClientHello 与 ServerHello 不能相同"))
	}

	if c.KCPConfig != nil {
		if err := c.KCPConfig.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if !strings.HasPrefix(c.SignalingPath, "/") {
		errs = append(errs, errors.New("SignalingPath must start with /"))
	}

	if c.SignalingTimeout < 0 {
		errs = append(errs, errors.New("SignalingTimeout must not be negative"))
	}

	if c.MaxSendAttempts < 0 {
		errs = append(errs, errors.New("MaxSendAttempts must not be negative"))
	}

	if c.Logger == nil {
		c.Logger = log.Nop()
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Option 配置选项函数
type Option func(*Config)

// WithBinding 选择传输绑定
func WithBinding(b BindingKind) Option {
	return func(c *Config) {
		c.Binding = b
	}
}

// WithHeartbeatInterval 设置心跳间隔
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
	}
}

// WithIdleTimeout 设置空闲超时
func WithIdleTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.IdleTimeout = timeout
	}
}

// WithHello 设置握手字面量
func WithHello(client, server string) Option {
	return func(c *Config) {
		c.ClientHello = client
		c.ServerHello = server
	}
}

// WithBindAddress 设置本地绑定地址
func WithBindAddress(ip net.IP) Option {
	return func(c *Config) {
		c.BindAddress = ip
	}
}

// WithKCPConfig 设置 KCP 配置
func WithKCPConfig(cfg *reliable.KCPConfig) Option {
	return func(c *Config) {
		c.KCPConfig = cfg
	}
}

// WithSecret 设置 KCP 共享密钥
func WithSecret(secret string) Option {
	return func(c *Config) {
		c.Secret = secret
	}
}

// WithSignalingPath 设置信令路径
func WithSignalingPath(path string) Option {
	return func(c *Config) {
		c.SignalingPath = path
	}
}

// WithICEServers 设置 ICE 服务器
func WithICEServers(urls ...string) Option {
	return func(c *Config) {
		c.ICEServers = urls
	}
}

// WithLoopbackCandidates 收集回环地址候选
func WithLoopbackCandidates(enable bool) Option {
	return func(c *Config) {
		c.LoopbackCandidates = enable
	}
}

// WithWaitForICEGathering 设置是否等待 ICE 收集完成
func WithWaitForICEGathering(wait bool) Option {
	return func(c *Config) {
		c.WaitForICEGathering = wait
	}
}

// WithSignalingTimeout 设置信令请求超时
func WithSignalingTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.SignalingTimeout = timeout
	}
}

// WithHTTPClient 设置信令 HTTP 客户端
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithMaxSendAttempts 设置单个数据包的最大发送次数
func WithMaxSendAttempts(n int) Option {
	return func(c *Config) {
		c.MaxSendAttempts = n
	}
}

// WithGateUntilConnected 在收到 Connection 之前丢弃数据包
func WithGateUntilConnected(gate bool) Option {
	return func(c *Config) {
		c.GateUntilConnected = gate
	}
}

// WithSurfaceNegotiationFailure 协商失败时推送 Disconnection
func WithSurfaceNegotiationFailure(surface bool) Option {
	return func(c *Config) {
		c.SurfaceNegotiationFailure = surface
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger log.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithTracerProvider 设置追踪提供者
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) {
		c.TracerProvider = tp
	}
}
