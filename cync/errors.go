package cync

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Decode failure reasons for PacketDecodeError.
const (
	ReasonTooShort        = "too_short"
	ReasonInvalidLength   = "invalid_length"
	ReasonUnknownType     = "unknown_type"
	ReasonMissingMarkers  = "missing_0x7e_markers"
	ReasonInvalidChecksum = "invalid_checksum"
)

// Framing failure reasons for PacketFramingError.
const (
	ReasonPacketTooLarge = "packet_too_large"
	ReasonBufferOverflow = "buffer_overflow"
)

// Connection failure reasons for CyncConnectionError.
const (
	ReasonNotConnected      = "not_connected"
	ReasonParallelConn      = "parallel_connection"
	ReasonReadFailed        = "read_failed"
)

// previewLen bounds how much of an offending buffer is ever captured
// in an error value, so that credential-bearing payloads never leak
// into logs wholesale.
const previewLen = 16

func preview(b []byte) []byte {
	if len(b) > previewLen {
		b = b[:previewLen]
	}
	return append([]byte(nil), b...)
}

// CyncProtocolError is the marker interface every error type in this
// package implements.
type CyncProtocolError interface {
	error
	cyncProtocolError()
}

// PacketDecodeError reports why decode_packet rejected a buffer.
type PacketDecodeError struct {
	Reason  string
	Preview []byte
}

func newPacketDecodeError(reason string, data []byte) *PacketDecodeError {
	return &PacketDecodeError{Reason: reason, Preview: preview(data)}
}

func (e *PacketDecodeError) Error() string {
	return fmt.Sprintf("cync: decode packet: %s (preview %x)", e.Reason, e.Preview)
}
func (*PacketDecodeError) cyncProtocolError() {}

// PacketFramingError reports why the stream framer rejected or
// discarded buffered data.
type PacketFramingError struct {
	Reason string
}

func (e *PacketFramingError) Error() string {
	return fmt.Sprintf("cync: framing: %s", e.Reason)
}
func (*PacketFramingError) cyncProtocolError() {}

// CyncConnectionError reports a connection-level failure.
type CyncConnectionError struct {
	Reason string
}

func (e *CyncConnectionError) Error() string {
	return fmt.Sprintf("cync: connection: %s", e.Reason)
}
func (*CyncConnectionError) cyncProtocolError() {}

// HandshakeError reports that the handshake failed after the
// configured number of attempts.
type HandshakeError struct {
	Reason   string
	Attempts int
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("cync: handshake failed after %d attempts: %s", e.Attempts, e.Reason)
}
func (*HandshakeError) cyncProtocolError() {}

// PacketReceiveError reports a failure on the receive path that isn't
// better described by a more specific error type.
type PacketReceiveError struct {
	Reason string
}

func (e *PacketReceiveError) Error() string {
	return fmt.Sprintf("cync: receive: %s", e.Reason)
}
func (*PacketReceiveError) cyncProtocolError() {}

// DuplicatePacketError is raised to the recv_reliable caller when a
// received packet's dedup key has already been seen. It is expected
// during retransmits and is typically log-and-continue.
type DuplicatePacketError struct {
	DedupKey      string
	CorrelationID uuid.UUID
}

func (e *DuplicatePacketError) Error() string {
	return fmt.Sprintf("cync: duplicate packet: key=%s correlation_id=%s", e.DedupKey, e.CorrelationID)
}
func (*DuplicatePacketError) cyncProtocolError() {}

// ACKTimeoutError describes a single send attempt that timed out
// waiting for an acknowledgment. The retry loop in sendClass does not
// construct it: a timed-out attempt is counted and retried, and final
// failure is reported through SendResult.
type ACKTimeoutError struct {
	MsgID   [2]byte
	Timeout time.Duration
	Retries uint
}

func (e *ACKTimeoutError) Error() string {
	return fmt.Sprintf("cync: ack timeout: msg_id=%x timeout=%s retries=%d", e.MsgID, e.Timeout, e.Retries)
}
func (*ACKTimeoutError) cyncProtocolError() {}

// QueueFullError is raised by BoundedQueue.Put under the REJECT
// overflow policy.
type QueueFullError struct {
	QueueName string
	Policy    QueuePolicy
	QueueSize int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("cync: queue %q full (policy=%s size=%d)", e.QueueName, e.Policy, e.QueueSize)
}
func (*QueueFullError) cyncProtocolError() {}
