package cync

import "time"

// TimeoutConfig is the single source for every timeout the transport
// uses, derived from one measured input so that recalibration never
// requires hunting down scattered constants. Production code
// constructs transports with a TimeoutConfig built by NewTimeoutConfig;
// tests may use literal timeouts directly, but review of production
// call sites should reject literal timeout arguments.
type TimeoutConfig struct {
	P99AckLatency time.Duration

	AckWait          time.Duration
	SendIO           time.Duration
	Handshake        time.Duration
	HeartbeatAck     time.Duration
	CleanupSweep     time.Duration
}

// NewTimeoutConfig derives every dependent timeout from p99AckLatency
// per the fixed formulas: ack wait is 2.5x, send I/O matches ack wait,
// handshake is 2.5x ack wait, heartbeat ack is the greater of 3x ack
// wait or 10s, and the cleanup sweep interval is 15x ack wait.
func NewTimeoutConfig(p99AckLatency time.Duration) TimeoutConfig {
	ackWait := time.Duration(float64(p99AckLatency) * 2.5)
	heartbeatAck := ackWait * 3
	if heartbeatAck < 10*time.Second {
		heartbeatAck = 10 * time.Second
	}
	return TimeoutConfig{
		P99AckLatency: p99AckLatency,
		AckWait:       ackWait,
		SendIO:        ackWait,
		Handshake:     time.Duration(float64(ackWait) * 2.5),
		HeartbeatAck:  heartbeatAck,
		CleanupSweep:  ackWait * 15,
	}
}

// DefaultTimeoutConfig builds a TimeoutConfig from the documented
// default measurement of p99_ack_latency_ms = 800ms.
func DefaultTimeoutConfig() TimeoutConfig {
	return NewTimeoutConfig(800 * time.Millisecond)
}

const (
	heartbeatInterval = 60 * time.Second
	backoffBase       = 250 * time.Millisecond
	backoffMax        = 5 * time.Second
	backoffJitter     = 100 * time.Millisecond
)
