package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/cykyes/duosock/internal/testserver"
	"github.com/cykyes/duosock/log"
	"github.com/cykyes/duosock/metrics"
	"github.com/cykyes/duosock/socket"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "duosock",
		Short:         "UDP / WebRTC 客户端数据报套接字工具",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(pingCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "打印版本",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("duosock", version)
		},
	}
}

type pingOptions struct {
	server      string
	transport   string
	count       int
	interval    time.Duration
	timeout     time.Duration
	logLevel    string
	secret      string
	local       bool
	metricsAddr string
}

func pingCmd() *cobra.Command {
	opts := &pingOptions{}

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "向服务器发送 ping 并等待 pong",
		Example: `  duosock ping --server 203.0.113.7:9000
  duosock ping --transport webrtc --server 203.0.113.7:8080
  duosock ping --local --transport webrtc -n 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPing(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.server, "server", "", "服务器地址 host:port")
	f.StringVarP(&opts.transport, "transport", "t", "udp", "传输类型 (udp|webrtc)")
	f.IntVarP(&opts.count, "count", "n", 4, "发送次数")
	f.DurationVarP(&opts.interval, "interval", "i", time.Second, "发送间隔")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Second, "等待最后一个 pong 的时间")
	f.StringVar(&opts.logLevel, "log-level", "warn", "日志级别 (debug|info|warn|error|off)")
	f.StringVar(&opts.secret, "secret", "", "KCP 共享密钥（udp）")
	f.BoolVar(&opts.local, "local", false, "在本进程内启动测试服务器")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Prometheus 抓取地址，例如 127.0.0.1:9100（为空不启用）")

	return cmd
}

func runPing(ctx context.Context, opts *pingOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	binding, err := socket.ParseBinding(opts.transport)
	if err != nil {
		return err
	}
	level, err := log.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	if opts.count < 1 {
		return errors.New("--count 必须大于 0")
	}

	logger := log.NewStdLogger(log.WithLevel(level), log.WithWriter(os.Stderr))
	collector := metrics.NewCollector()

	if opts.metricsAddr != "" {
		addr, shutdown, err := serveMetrics(opts.metricsAddr, collector, logger)
		if err != nil {
			return err
		}
		defer shutdown()
		fmt.Printf("指标: http://%s/metrics\n", addr)
	}

	sockOpts := []socket.Option{
		socket.WithBinding(binding),
		socket.WithLogger(logger),
		socket.WithMetrics(collector),
		socket.WithSecret(opts.secret),
	}

	server := opts.server
	if opts.local {
		addr, closeServer, err := startLocalServer(binding, opts.secret, logger)
		if err != nil {
			return err
		}
		defer closeServer()
		server = addr
		sockOpts = append(sockOpts, socket.WithLoopbackCandidates(true), socket.WithICEServers())
	}
	if server == "" {
		return errors.New("需要 --server 或 --local")
	}

	sock, err := socket.ConnectContext(ctx, server, sockOpts...)
	if err != nil {
		return err
	}
	defer sock.Close()

	fmt.Printf("PING %s (%s)\n", sock.ServerAddress(), binding)

	sender := sock.Sender()
	sentAt := make(map[int]time.Time)
	var sent, received int
	nextPing := time.Now()
	deadline := time.Time{}

	for {
		if sent < opts.count && !time.Now().Before(nextPing) {
			sent++
			sentAt[sent] = time.Now()
			if err := sender.SendPayload([]byte("ping")); err != nil {
				logger.Debug("ping #%d 暂未发出，稍后重发: %v", sent, err)
			}
			nextPing = time.Now().Add(opts.interval)
			if sent == opts.count {
				deadline = time.Now().Add(opts.timeout)
			}
		}
		if received >= opts.count || (!deadline.IsZero() && time.Now().After(deadline)) {
			break
		}

		wait := time.Until(nextPing)
		if sent == opts.count {
			wait = time.Until(deadline)
		}
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}

		recvCtx, cancel := context.WithTimeout(ctx, wait)
		ev, err := sock.ReceiveContext(recvCtx)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded):
			continue
		case ctx.Err() != nil:
			return summarize(collector, sent, received)
		case socket.IsProtocolError(err):
			logger.Warn("%v", err)
			continue
		default:
			return err
		}

		switch ev.Kind {
		case socket.EventNone:
			// WebRTC 绑定不阻塞，空闲时让出
			select {
			case <-ctx.Done():
				return summarize(collector, sent, received)
			case <-time.After(10 * time.Millisecond):
			}
		case socket.EventConnection:
			fmt.Printf("已与 %s 建立连接\n", ev.Packet.Addr())
		case socket.EventDisconnection:
			if ev.Cause != nil {
				return fmt.Errorf("连接断开: %w", ev.Cause)
			}
			fmt.Println("连接断开")
		case socket.EventPacket:
			if string(ev.Packet.Payload()) != "pong" {
				fmt.Printf("收到 %d 字节\n", len(ev.Packet.Payload()))
				continue
			}
			received++
			rtt := time.Since(sentAt[received])
			fmt.Printf("pong from %s: seq=%d time=%s\n", ev.Packet.Addr(), received, rtt.Round(time.Microsecond))
		}
	}

	return summarize(collector, sent, received)
}

func startLocalServer(binding socket.BindingKind, secret string, logger log.Logger) (string, func(), error) {
	if binding == socket.BindingWebRTC {
		srv, err := testserver.NewRTCServer(testserver.WithRTCLogger(log.Named(logger, "server")))
		if err != nil {
			return "", nil, err
		}
		return srv.Addr(), func() { srv.Close() }, nil
	}

	srv, err := testserver.NewUDPServer(
		testserver.WithSecret(secret),
		testserver.WithUDPLogger(log.Named(logger, "server")),
	)
	if err != nil {
		return "", nil, err
	}
	return srv.Addr().String(), func() { srv.Close() }, nil
}

// serveMetrics 在 addr 上暴露 /metrics，返回实际监听地址
func serveMetrics(addr string, c *metrics.Collector, logger log.Logger) (string, func(), error) {
	handler, err := metrics.Handler(c)
	if err != nil {
		return "", nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("监听指标地址失败: %w", err)
	}

	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", handler)
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("指标服务退出: %v", err)
		}
	}()

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
	return ln.Addr().String(), shutdown, nil
}

func summarize(c *metrics.Collector, sent, received int) error {
	s := c.GetSnapshot()
	loss := 0.0
	if sent > 0 {
		loss = float64(sent-received) / float64(sent) * 100
	}
	fmt.Printf("\n--- 统计 ---\n")
	fmt.Printf("%d 发送, %d 收到, %.1f%% 丢失, 用时 %s\n", sent, received, loss, s.Uptime.Round(time.Millisecond))
	fmt.Printf("字节: 发送 %d / 接收 %d, 重发 %d, 放弃 %d\n", s.BytesSent, s.BytesReceived, s.SendRetries, s.SendGaveUp)
	if s.NegotiationsTotal > 0 {
		fmt.Printf("协商: %d 次, 失败 %d, 平均耗时 %s\n", s.NegotiationsTotal, s.NegotiationsFailed, s.AvgNegotiationLatency)
	}
	if s.HeartbeatsSent > 0 {
		fmt.Printf("心跳: 发送 %d / 响应 %d\n", s.HeartbeatsSent, s.HeartbeatsAck)
	}
	if received == 0 {
		return errors.New("未收到任何 pong")
	}
	return nil
}
