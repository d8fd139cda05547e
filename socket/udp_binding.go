package socket

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/cykyes/duosock/internal/protocol"
	"github.com/cykyes/duosock/log"
	"github.com/cykyes/duosock/metrics"
	"github.com/cykyes/duosock/reliable"
	"github.com/cykyes/duosock/transport"
)

// udpBinding 通过 KCP 会话与服务器通信。
// 读取、写入、心跳各由一个后台 goroutine 负责，直到 close。
type udpBinding struct {
	server  *net.UDPAddr
	logger  log.Logger
	metrics *metrics.Collector
	outbox  *DroppedOutbox

	events   *syncQueue[queueItem]
	outgoing *syncQueue[outboxEntry]

	tr     *reliable.Transport
	cancel context.CancelFunc
	group  *errgroup.Group
}

func newUDPBinding(ctx context.Context, cfg *Config, server *net.UDPAddr, outbox *DroppedOutbox) (*udpBinding, error) {
	logger := log.Named(cfg.Logger, "udp")

	ip := cfg.BindAddress
	if ip == nil {
		routed, err := transport.RouteIP(server)
		if err != nil {
			return nil, err
		}
		ip = routed
	}

	conn, err := transport.ListenUDP(ctx, ip)
	if err != nil {
		return nil, err
	}
	mux := transport.NewUDPMux(conn, server)

	b := &udpBinding{
		server:   server,
		logger:   logger,
		metrics:  cfg.Metrics,
		outbox:   outbox,
		events:   newSyncQueue[queueItem](),
		outgoing: newSyncQueue[outboxEntry](),
	}

	tr, err := reliable.Dial(mux, server, reliable.Config{
		KCP:               cfg.KCPConfig,
		Secret:            cfg.Secret,
		HeartbeatInterval: cfg.HeartbeatInterval,
		IdleTimeout:       cfg.IdleTimeout,
		Logger:            logger,
		Metrics:           cfg.Metrics,
	}, b.onTransportEvent)
	if err != nil {
		mux.Close()
		return nil, err
	}
	b.tr = tr

	// 只发送一次，可靠性交给 KCP 的重传
	if err := tr.Send(newHandshake(cfg).clientHello); err != nil {
		logger.Warn("发送握手失败: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	b.cancel = cancel
	b.group = g

	g.Go(func() error {
		defer b.events.Close()
		return b.tr.ReadLoop(gctx)
	})
	g.Go(func() error {
		return b.writeLoop(gctx)
	})
	g.Go(func() error {
		return b.tr.HeartbeatLoop(gctx)
	})

	logger.Info("UDP 绑定已启动: %s -> %s", tr.LocalAddr(), server)
	return b, nil
}

// onTransportEvent 在传输层的 goroutine 上调用
func (b *udpBinding) onTransportEvent(e reliable.Event) {
	switch e.Kind {
	case reliable.EventPacket:
		b.metrics.AddBytesReceived(int64(len(e.Payload)))
		b.events.Push(queueItem{event: Event{
			Kind:   EventPacket,
			Packet: Packet{addr: b.server, payload: e.Payload},
		}})
	case reliable.EventStray:
		b.metrics.IncUnknownSenders()
		b.events.Push(queueItem{err: fmt.Errorf("%w: %s", ErrUnknownSender, e.Addr)})
	case reliable.EventConnect:
		b.events.Push(queueItem{err: fmt.Errorf("%w: %s", ErrUnexpectedConnect, e.Addr)})
	case reliable.EventTimeout:
		b.events.Push(queueItem{event: Event{Kind: EventDisconnection}})
	}
}

func (b *udpBinding) writeLoop(ctx context.Context) error {
	// 写入端退出后不再接受新数据包，剩余的交给 DroppedOutbox
	defer func() {
		b.outgoing.Close()
		for {
			entry, ok := b.outgoing.TryPop()
			if !ok {
				return
			}
			b.outbox.reject(entry, ErrSenderClosed)
		}
	}()

	for {
		entry, err := b.outgoing.Pop(ctx)
		if err != nil {
			return nil
		}
		payload := entry.packet.Payload()
		if err := b.tr.Send(payload); err != nil {
			b.outbox.reject(entry, err)
			continue
		}
		b.metrics.AddBytesSent(int64(len(payload)))
	}
}

func (b *udpBinding) submit(entry outboxEntry) error {
	if !b.outgoing.Push(entry) {
		return ErrSenderClosed
	}
	return nil
}

func (b *udpBinding) next(ctx context.Context) (Event, error) {
	item, err := b.events.Pop(ctx)
	if err != nil {
		return Event{}, err
	}
	return item.event, item.err
}

func (b *udpBinding) maxPayload() int {
	return protocol.MaxMessageSize
}

func (b *udpBinding) classifies() bool {
	return true
}

func (b *udpBinding) localAddr() net.Addr {
	return b.tr.LocalAddr()
}

func (b *udpBinding) close() error {
	err := b.tr.Close()
	b.cancel()
	if waitErr := b.group.Wait(); waitErr != nil {
		b.logger.Debug("后台任务退出: %v", waitErr)
	}
	b.events.Close()
	return err
}
