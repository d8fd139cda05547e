package metrics

import (
	"sync/atomic"
	"time"
)

// Collector collects runtime metrics for a client socket.
type Collector struct {
	// Connection stats.
	connectionsTotal int64
	disconnectsTotal int64

	// Negotiation stats (WebRTC).
	negotiationsTotal    int64
	negotiationsFailed   int64
	negotiationLatencyNs int64
	negotiationCount     int64

	// Traffic stats.
	bytesSent     int64
	bytesReceived int64
	packetsSent   int64
	packetsRecv   int64

	// Send-path stats.
	sendFailures  int64
	sendRetries   int64
	sendGaveUp    int64
	packetsGated  int64
	outboxPending int64

	// Protocol stats.
	unknownSenders int64
	heartbeatsSent int64
	heartbeatsAck  int64

	errorsTotal int64

	startTime atomic.Int64
}

// NewCollector creates a new Collector.
func NewCollector() *Collector {
	c := &Collector{}
	c.startTime.Store(time.Now().UnixNano())
	return c
}

func (c *Collector) IncConnectionsTotal() {
	atomic.AddInt64(&c.connectionsTotal, 1)
}

func (c *Collector) IncDisconnectsTotal() {
	atomic.AddInt64(&c.disconnectsTotal, 1)
}

func (c *Collector) IncNegotiationsTotal() {
	atomic.AddInt64(&c.negotiationsTotal, 1)
}

func (c *Collector) IncNegotiationsFailed() {
	atomic.AddInt64(&c.negotiationsFailed, 1)
}

func (c *Collector) RecordNegotiationLatency(d time.Duration) {
	atomic.AddInt64(&c.negotiationLatencyNs, int64(d))
	atomic.AddInt64(&c.negotiationCount, 1)
}

func (c *Collector) AddBytesSent(n int64) {
	atomic.AddInt64(&c.bytesSent, n)
	atomic.AddInt64(&c.packetsSent, 1)
}

func (c *Collector) AddBytesReceived(n int64) {
	atomic.AddInt64(&c.bytesReceived, n)
	atomic.AddInt64(&c.packetsRecv, 1)
}

func (c *Collector) IncSendFailures() {
	atomic.AddInt64(&c.sendFailures, 1)
}

func (c *Collector) IncSendRetries() {
	atomic.AddInt64(&c.sendRetries, 1)
}

func (c *Collector) IncSendGaveUp() {
	atomic.AddInt64(&c.sendGaveUp, 1)
}

func (c *Collector) IncPacketsGated() {
	atomic.AddInt64(&c.packetsGated, 1)
}

func (c *Collector) SetOutboxPending(n int64) {
	atomic.StoreInt64(&c.outboxPending, n)
}

func (c *Collector) IncUnknownSenders() {
	atomic.AddInt64(&c.unknownSenders, 1)
}

func (c *Collector) IncHeartbeatsSent() {
	atomic.AddInt64(&c.heartbeatsSent, 1)
}

func (c *Collector) IncHeartbeatsAck() {
	atomic.AddInt64(&c.heartbeatsAck, 1)
}

func (c *Collector) IncErrorsTotal() {
	atomic.AddInt64(&c.errorsTotal, 1)
}

// Snapshot represents a point-in-time metrics snapshot.
type Snapshot struct {
	Uptime time.Duration

	ConnectionsTotal int64
	DisconnectsTotal int64

	NegotiationsTotal     int64
	NegotiationsFailed    int64
	AvgNegotiationLatency time.Duration

	BytesSent     int64
	BytesReceived int64
	PacketsSent   int64
	PacketsRecv   int64

	SendFailures  int64
	SendRetries   int64
	SendGaveUp    int64
	PacketsGated  int64
	OutboxPending int64

	UnknownSenders int64
	HeartbeatsSent int64
	HeartbeatsAck  int64

	ErrorsTotal int64
}

func (c *Collector) GetSnapshot() Snapshot {
	s := Snapshot{
		Uptime: time.Since(time.Unix(0, c.startTime.Load())),

		ConnectionsTotal: atomic.LoadInt64(&c.connectionsTotal),
		DisconnectsTotal: atomic.LoadInt64(&c.disconnectsTotal),

		NegotiationsTotal:  atomic.LoadInt64(&c.negotiationsTotal),
		NegotiationsFailed: atomic.LoadInt64(&c.negotiationsFailed),

		BytesSent:     atomic.LoadInt64(&c.bytesSent),
		BytesReceived: atomic.LoadInt64(&c.bytesReceived),
		PacketsSent:   atomic.LoadInt64(&c.packetsSent),
		PacketsRecv:   atomic.LoadInt64(&c.packetsRecv),

		SendFailures:  atomic.LoadInt64(&c.sendFailures),
		SendRetries:   atomic.LoadInt64(&c.sendRetries),
		SendGaveUp:    atomic.LoadInt64(&c.sendGaveUp),
		PacketsGated:  atomic.LoadInt64(&c.packetsGated),
		OutboxPending: atomic.LoadInt64(&c.outboxPending),

		UnknownSenders: atomic.LoadInt64(&c.unknownSenders),
		HeartbeatsSent: atomic.LoadInt64(&c.heartbeatsSent),
		HeartbeatsAck:  atomic.LoadInt64(&c.heartbeatsAck),

		ErrorsTotal: atomic.LoadInt64(&c.errorsTotal),
	}

	count := atomic.LoadInt64(&c.negotiationCount)
	if count > 0 {
		totalNs := atomic.LoadInt64(&c.negotiationLatencyNs)
		s.AvgNegotiationLatency = time.Duration(totalNs / count)
	}

	return s
}

func (c *Collector) Reset() {
	atomic.StoreInt64(&c.connectionsTotal, 0)
	atomic.StoreInt64(&c.disconnectsTotal, 0)

	atomic.StoreInt64(&c.negotiationsTotal, 0)
	atomic.StoreInt64(&c.negotiationsFailed, 0)
	atomic.StoreInt64(&c.negotiationLatencyNs, 0)
	atomic.StoreInt64(&c.negotiationCount, 0)

	atomic.StoreInt64(&c.bytesSent, 0)
	atomic.StoreInt64(&c.bytesReceived, 0)
	atomic.StoreInt64(&c.packetsSent, 0)
	atomic.StoreInt64(&c.packetsRecv, 0)

	atomic.StoreInt64(&c.sendFailures, 0)
	atomic.StoreInt64(&c.sendRetries, 0)
	atomic.StoreInt64(&c.sendGaveUp, 0)
	atomic.StoreInt64(&c.packetsGated, 0)
	atomic.StoreInt64(&c.outboxPending, 0)

	atomic.StoreInt64(&c.unknownSenders, 0)
	atomic.StoreInt64(&c.heartbeatsSent, 0)
	atomic.StoreInt64(&c.heartbeatsAck, 0)

	atomic.StoreInt64(&c.errorsTotal, 0)

	c.startTime.Store(time.Now().UnixNano())
}

// Global is the process-level metrics collector.
var Global = NewCollector()
