package cync

import "time"

// Sink is the abstract metrics surface this package emits through.
// It never imports a concrete metrics backend itself; see package
// metrics/prom for a Prometheus-backed implementation. A nil Sink
// passed into TransportConfig is replaced with a no-op implementation,
// so callers that don't care about metrics never need a null check.
type Sink interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, labels map[string]string, value float64)
	SetGauge(name string, labels map[string]string, value float64)
}

// Metric name constants, exactly as exposed on the wire-protocol
// metrics surface. Label sets are documented alongside each call site
// that emits them.
const (
	metricPacketSent        = "tcp_comm_packet_sent_total"
	metricPacketRecv        = "tcp_comm_packet_recv_total"
	metricPacketLatency     = "tcp_comm_packet_latency_seconds"
	metricRetransmit        = "tcp_comm_packet_retransmit_total"
	metricDecodeErrors      = "tcp_comm_decode_errors_total"
	metricFramingErrors     = "tcp_comm_framing_errors_total"
	metricAckReceived       = "tcp_comm_ack_received_total"
	metricAckTimeout        = "tcp_comm_ack_timeout_total"
	metricIdempotentDrop    = "tcp_comm_idempotent_drop_total"
	metricRetryAttempts     = "tcp_comm_retry_attempts_total"
	metricMessageAbandoned  = "tcp_comm_message_abandoned_total"
	metricConnectionState   = "tcp_comm_connection_state"
	metricHandshake         = "tcp_comm_handshake_total"
	metricReconnection      = "tcp_comm_reconnection_total"
	metricHeartbeat         = "tcp_comm_heartbeat_total"
	metricDedupCacheSize    = "tcp_comm_dedup_cache_size"
	metricDedupCacheHits    = "tcp_comm_dedup_cache_hits_total"
	metricDedupEvictions    = "tcp_comm_dedup_cache_evictions_total"
	metricStateLockHold     = "tcp_comm_state_lock_hold_seconds"
	metricRecvQueueSize     = "tcp_comm_recv_queue_size"
	metricQueueFull         = "tcp_comm_queue_full_total"
	metricQueueDropped      = "tcp_comm_queue_dropped_total"
	metricQueuePolicySwitch = "tcp_comm_queue_policy_switch_total"
)

type noopSink struct{}

func (noopSink) IncCounter(string, map[string]string)                {}
func (noopSink) ObserveHistogram(string, map[string]string, float64) {}
func (noopSink) SetGauge(string, map[string]string, float64)         {}

// NoopSink returns a Sink that discards every observation.
func NoopSink() Sink { return noopSink{} }

func sinkOrNoop(s Sink) Sink {
	if s == nil {
		return noopSink{}
	}
	return s
}

const (
	lockHoldWarnThreshold     = 10 * time.Millisecond
	lockHoldCriticalThreshold = 100 * time.Millisecond
)
