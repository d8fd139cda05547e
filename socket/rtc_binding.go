package socket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/datachannel"
	"github.com/pion/webrtc/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cykyes/duosock/log"
	"github.com/cykyes/duosock/metrics"
)

const (
	dataChannelLabel = "webudp"
	// maxChannelMessage 单条数据通道消息上限，与 SCTP 允许的最大消息一致
	maxChannelMessage = 65536
)

// peerConnection 绑定用到的 *webrtc.PeerConnection 方法
type peerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// channelIO 分离后的数据通道
type channelIO interface {
	ReadDataChannel(p []byte) (int, bool, error)
	WriteDataChannel(p []byte, isString bool) (int, error)
	Close() error
}

var _ channelIO = datachannel.ReadWriteCloser(nil)

type rtcPeer struct {
	pc peerConnection
	// gathering 返回 ICE 收集完成的通知，需在 SetLocalDescription 之前调用
	gathering func() <-chan struct{}
}

type channelHolder struct {
	io channelIO
}

// rtcBinding 协作式 WebRTC 绑定。
// pion 回调与后台 goroutine 只向 mailbox 投递闭包；state、events
// 只在轮询方（Receive 所在 goroutine）上读写。
type rtcBinding struct {
	server        *net.UDPAddr
	logger        log.Logger
	metrics       *metrics.Collector
	outbox        *DroppedOutbox
	signaling     *signalingClient
	strict        bool
	waitGathering bool

	peer rtcPeer
	mail *mailbox

	// 以下字段归轮询方所有
	events   *localQueue[queueItem]
	state    negotiationState
	gathered <-chan struct{}

	channel atomic.Pointer[channelHolder]
	closed  atomic.Bool

	ctx     context.Context
	cancel  context.CancelFunc
	span    trace.Span
	started time.Time
}

func newRTCBinding(cfg *Config, server *net.UDPAddr, outbox *DroppedOutbox) (*rtcBinding, error) {
	logger := log.Named(cfg.Logger, "webrtc")

	se := webrtc.SettingEngine{}
	se.DetachDataChannels()
	se.LoggerFactory = pionLoggerFactory{logger: logger}
	if cfg.LoopbackCandidates {
		se.SetIncludeLoopbackCandidate(true)
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	var iceServers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("创建 PeerConnection 失败: %w", err)
	}

	// 不可靠、无序：可靠性由应用层按需实现
	ordered := false
	maxRetransmits := uint16(0)
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("创建数据通道失败: %w", err)
	}

	b := newRTCBindingWith(cfg, server, outbox, logger, rtcPeer{
		pc: pc,
		gathering: func() <-chan struct{} {
			return webrtc.GatheringCompletePromise(pc)
		},
	})

	dc.OnOpen(func() {
		raw, err := dc.Detach()
		if err != nil {
			b.mail.post(func() { logger.Error("分离数据通道失败: %v", err) })
			return
		}
		b.channelOpened(raw)
	})
	dc.OnError(func(err error) {
		b.mail.post(func() { logger.Warn("数据通道错误: %v", err) })
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		b.mail.post(func() { logger.Debug("PeerConnection 状态: %s", s) })
	})

	b.start()
	return b, nil
}

func newRTCBindingWith(cfg *Config, server *net.UDPAddr, outbox *DroppedOutbox, logger log.Logger, peer rtcPeer) *rtcBinding {
	ctx, cancel := context.WithCancel(context.Background())
	_, span := tracerFrom(cfg.TracerProvider).Start(ctx, "webrtc.negotiate",
		trace.WithAttributes(attribute.String("server", server.String())))

	return &rtcBinding{
		server:        server,
		logger:        logger,
		metrics:       cfg.Metrics,
		outbox:        outbox,
		signaling:     newSignalingClient(server, cfg.SignalingPath, cfg.HTTPClient, cfg.SignalingTimeout),
		strict:        cfg.SurfaceNegotiationFailure,
		waitGathering: cfg.WaitForICEGathering,
		peer:          peer,
		mail:          newMailbox(),
		events:        newLocalQueue[queueItem](),
		state:         stateCreatingOffer,
		ctx:           ctx,
		cancel:        cancel,
		span:          span,
	}
}

// start 开始协商；此时还没有轮询方，可以直接驱动状态机
func (b *rtcBinding) start() {
	b.started = time.Now()
	b.metrics.IncNegotiationsTotal()
	b.dispatch(negotiationEvent{input: inputStart})
}

func (b *rtcBinding) dispatch(ev negotiationEvent) {
	prev := b.state
	next, act := transition(prev, ev, b.strict)
	b.state = next
	if next != prev {
		b.logger.Debug("协商状态 %s -> %s (%s)", prev, next, ev.input)
		b.span.AddEvent("transition", trace.WithAttributes(
			attribute.String("from", prev.String()),
			attribute.String("to", next.String()),
			attribute.String("input", ev.input.String()),
		))
	}
	b.execute(act)
}

func (b *rtcBinding) postEvent(ev negotiationEvent) {
	b.mail.post(func() { b.dispatch(ev) })
}

func (b *rtcBinding) fail(step string, err error) {
	b.postEvent(negotiationEvent{input: inputFailed, err: fmt.Errorf("%s: %w", step, err)})
}

// execute 执行副作用。阻塞调用放到 goroutine 中，完成后经 mailbox 回到轮询方。
func (b *rtcBinding) execute(act negotiationAction) {
	pc := b.peer.pc

	switch act.kind {
	case actionNone:

	case actionCreateOffer:
		go func() {
			offer, err := pc.CreateOffer(nil)
			if err != nil {
				b.fail("创建 offer 失败", err)
				return
			}
			b.postEvent(negotiationEvent{input: inputOfferCreated, description: offer})
		}()

	case actionSetLocalDescription:
		desc := act.description
		go func() {
			var gathered <-chan struct{}
			if b.peer.gathering != nil {
				gathered = b.peer.gathering()
			}
			if err := pc.SetLocalDescription(desc); err != nil {
				b.fail("设置本地描述失败", err)
				return
			}
			b.mail.post(func() {
				b.gathered = gathered
				b.dispatch(negotiationEvent{input: inputLocalDescriptionSet})
			})
		}()

	case actionPostOffer:
		gathered := b.gathered
		go func() {
			if b.waitGathering && gathered != nil {
				select {
				case <-gathered:
				case <-b.ctx.Done():
					return
				}
			}
			local := pc.LocalDescription()
			if local == nil {
				b.fail("发送信令失败", errors.New("本地描述为空"))
				return
			}

			b.postEvent(negotiationEvent{input: inputRequestSent})
			answer, candidate, err := b.signaling.exchange(b.ctx, local.SDP)
			if err != nil {
				if b.ctx.Err() != nil {
					return
				}
				b.fail("信令交换失败", err)
				return
			}
			b.postEvent(negotiationEvent{input: inputAnswerReceived, description: answer, candidate: candidate})
		}()

	case actionSetRemoteDescription:
		desc, candidate := act.description, act.candidate
		go func() {
			if err := pc.SetRemoteDescription(desc); err != nil {
				b.fail("设置远端描述失败", err)
				return
			}
			b.postEvent(negotiationEvent{input: inputRemoteDescriptionSet, candidate: candidate})
		}()

	case actionAddCandidate:
		candidate := act.candidate
		go func() {
			if err := pc.AddICECandidate(candidate); err != nil {
				b.fail("添加 ICE 候选失败", err)
				return
			}
			b.postEvent(negotiationEvent{input: inputCandidateAdded})
		}()

	case actionNegotiated:
		elapsed := time.Since(b.started)
		b.metrics.RecordNegotiationLatency(elapsed)
		b.logger.Debug("信令协商完成，用时 %v", elapsed)

	case actionChannelOpened:
		b.logger.Info("数据通道已打开: %s", b.server)
		b.span.SetStatus(codes.Ok, "")
		b.span.End()

	case actionLogFailure:
		b.metrics.IncNegotiationsFailed()
		b.span.RecordError(act.err)
		b.logger.Warn("WebRTC 协商失败，停留在 %s: %v", b.state, act.err)

	case actionSurfaceFailure:
		b.metrics.IncNegotiationsFailed()
		b.span.RecordError(act.err)
		b.span.SetStatus(codes.Error, act.err.Error())
		b.span.End()
		b.logger.Warn("WebRTC 协商失败: %v", act.err)
		b.events.Push(queueItem{event: Event{
			Kind:  EventDisconnection,
			Cause: fmt.Errorf("%w: %w", ErrNegotiation, act.err),
		}})
	}
}

// channelOpened 在 pion 的回调 goroutine 上调用
func (b *rtcBinding) channelOpened(ch channelIO) {
	if b.closed.Load() {
		ch.Close()
		return
	}
	h := &channelHolder{io: ch}
	b.channel.Store(h)
	go b.readLoop(h)
	b.postEvent(negotiationEvent{input: inputChannelOpen})
}

func (b *rtcBinding) readLoop(h *channelHolder) {
	buf := make([]byte, maxChannelMessage)
	for {
		n, isString, err := h.io.ReadDataChannel(buf)
		if errors.Is(err, io.ErrShortBuffer) {
			// 超长消息已被丢弃，通道仍可用
			b.mail.post(func() { b.logger.Warn("丢弃超过 %d 字节的数据通道消息", maxChannelMessage) })
			continue
		}
		if err != nil {
			if b.channel.CompareAndSwap(h, nil) {
				h.io.Close()
			}
			b.mail.post(func() { b.logger.Info("数据通道已关闭: %v", err) })
			return
		}
		if isString {
			// 只接受二进制帧
			continue
		}
		p := NewPacket(b.server, buf[:n])
		b.mail.post(func() {
			b.metrics.AddBytesReceived(int64(len(p.payload)))
			b.events.Push(queueItem{event: Event{Kind: EventPacket, Packet: p}})
		})
	}
}

func (b *rtcBinding) submit(entry outboxEntry) error {
	h := b.channel.Load()
	if h == nil || b.closed.Load() {
		return ErrChannelNotOpen
	}
	payload := entry.packet.Payload()
	if _, err := h.io.WriteDataChannel(payload, false); err != nil {
		return fmt.Errorf("%w: %v", ErrChannelNotOpen, err)
	}
	b.metrics.AddBytesSent(int64(len(payload)))
	return nil
}

// next 先执行积压的回调，再非阻塞地取事件
func (b *rtcBinding) next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	b.mail.runPending()
	item, ok := b.events.Pop()
	if !ok {
		return Event{Kind: EventNone}, nil
	}
	return item.event, item.err
}

func (b *rtcBinding) maxPayload() int {
	return maxChannelMessage
}

func (b *rtcBinding) classifies() bool {
	return false
}

func (b *rtcBinding) localAddr() net.Addr {
	return nil
}

func (b *rtcBinding) close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.cancel()
	b.mail.close()
	if h := b.channel.Swap(nil); h != nil {
		h.io.Close()
	}
	b.span.End()
	return b.peer.pc.Close()
}
