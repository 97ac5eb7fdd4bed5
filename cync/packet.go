package cync

import (
	"time"

	"github.com/google/uuid"
)

// Packet is a decoded value over one of the ten recognized PacketType
// discriminants. Raw retains the exact bytes it was decoded from so
// that encode(decode(b)) == b holds without re-deriving padding or
// header layout choices.
type Packet struct {
	Type   PacketType
	Length uint16
	Raw    []byte

	// Populated only for data-bearing variants (Data, Status), except
	// MsgID, which is also populated for DataAck.
	Endpoint      [5]byte
	MsgID         [2]byte
	Payload       []byte
	ChecksumValid bool
}

// HasEndpoint reports whether p carries endpoint/msg_id/payload
// framing, i.e. p.Type.isDataBearing().
func (p *Packet) HasEndpoint() bool {
	return p.Type.isDataBearing()
}

// TrackedPacket wraps a decoded Packet with receive-side bookkeeping:
// a fresh identity for tracing (CorrelationID) and a content-derived
// identity for duplicate detection (DedupKey). The two are never
// interchangeable: CorrelationID changes on every reception of the
// same logical packet (e.g. a retransmit), DedupKey does not.
//
// Duplicate marks an entry the router enqueued only to preserve
// arrival order after recognizing a repeat delivery; RecvReliable
// turns these into a DuplicatePacketError rather than handing the
// envelope to the caller.
type TrackedPacket struct {
	Packet        Packet
	CorrelationID uuid.UUID
	RecvTime      time.Time
	DedupKey      string
	Duplicate     bool
}

// pendingMessage is the transport-internal bookkeeping record for a
// reliable send awaiting its ACK. Owned exclusively by the state lock
// of the ReliableTransport that created it.
type pendingMessage struct {
	msgID         [2]byte
	correlationID uuid.UUID
	sentAt        time.Time
	ackSignal     chan struct{}
	retryCount    uint32
	class         PacketType // the request type, for FIFO-class matching
}

// ConnectionState enumerates the lifecycle states of a ReliableTransport.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// dedupEntry is a single record in the DedupCache's ordered map.
type dedupEntry struct {
	dedupKey      string
	correlationID uuid.UUID
	insertedAt    time.Time
}
