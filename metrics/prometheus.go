package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "duosock"

type counterDesc struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(Snapshot) float64
}

func newDesc(name, help string, kind prometheus.ValueType, value func(Snapshot) float64) counterDesc {
	return counterDesc{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
		kind:  kind,
		value: value,
	}
}

var descs = []counterDesc{
	newDesc("connections_total", "Connection events delivered.", prometheus.CounterValue,
		func(s Snapshot) float64 { return float64(s.ConnectionsTotal) }),
	newDesc("disconnects_total", "Disconnection events delivered.", prometheus.CounterValue,
		func(s Snapshot) float64 { return float64(s.DisconnectsTotal) }),
	newDesc("negotiations_total", "WebRTC negotiations started.", prometheus.CounterValue,
		func(s Snapshot) float64 { return float64(s.NegotiationsTotal) }),
	newDesc("negotiations_failed_total", "WebRTC negotiation step failures.", prometheus.CounterValue,
		func(s Snapshot) float64 { return float64(s.NegotiationsFailed) }),
	newDesc("negotiation_latency_seconds_avg", "Average time from offer to remote candidate.", prometheus.GaugeValue,
		func(s Snapshot) float64 { return s.AvgNegotiationLatency.Seconds() }),
	newDesc("bytes_sent_total", "Payload bytes handed to the transport.", prometheus.CounterValue,
		func(s Snapshot) float64 { return float64(s.BytesSent) }),
	newDesc("bytes_received_total", "Payload bytes received.", prometheus.CounterValue,
		func(s Snapshot) float64 { return float64(s.BytesReceived) }),
	newDesc("packets_sent_total", "Packets handed to the transport.", prometheus.CounterValue,
		func(s Snapshot) float64 { return float64(s.PacketsSent) }),
	newDesc("packets_received_total", "Packets received.", prometheus.CounterValue,
		func(s Snapshot) float64 { return float64(s.PacketsRecv) }),
	newDesc("send_failures_total", "Sends that failed and were queued for retry.", prometheus.CounterValue,
		func(s Snapshot) float64 { return float64(s.SendFailures) }),
	newDesc("send_retries_total", "Packets resubmitted from the outbox.", prometheus.CounterValue,
		func(s Snapshot) float64 { return float64(s.SendRetries) }),
	newDesc("send_gave_up_total", "Packets dropped after exhausting send attempts.", prometheus.CounterValue,
		func(s Snapshot) float64 { return float64(s.SendGaveUp) }),
	newDesc("packets_gated_total", "Packets dropped before the connection was established.", prometheus.CounterValue,
		func(s Snapshot) float64 { return float64(s.PacketsGated) }),
	newDesc("outbox_pending", "Packets waiting in the outbox.", prometheus.GaugeValue,
		func(s Snapshot) float64 { return float64(s.OutboxPending) }),
	newDesc("unknown_senders_total", "Datagrams from addresses other than the server.", prometheus.CounterValue,
		func(s Snapshot) float64 { return float64(s.UnknownSenders) }),
	newDesc("heartbeats_sent_total", "Heartbeats sent.", prometheus.CounterValue,
		func(s Snapshot) float64 { return float64(s.HeartbeatsSent) }),
	newDesc("heartbeats_acked_total", "Heartbeat acknowledgements received.", prometheus.CounterValue,
		func(s Snapshot) float64 { return float64(s.HeartbeatsAck) }),
	newDesc("errors_total", "Errors returned from Receive.", prometheus.CounterValue,
		func(s Snapshot) float64 { return float64(s.ErrorsTotal) }),
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descs {
		ch <- d.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.GetSnapshot()
	for _, d := range descs {
		ch <- prometheus.MustNewConstMetric(d.desc, d.kind, d.value(snap))
	}
}

var _ prometheus.Collector = (*Collector)(nil)
