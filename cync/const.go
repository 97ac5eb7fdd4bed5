package cync

// MaxPacketSize is the largest declared payload length (the bytes
// following the 5 byte header) that the codec and framer will accept.
const MaxPacketSize = 4096

const (
	headerLen   = 5
	endpointLen = 5
	msgIDLen    = 2
	frameMarker = byte(0x7E)
	paddingByte = byte(0x00)
)

// PacketType is the one-byte discriminant at the start of every Cync
// wire packet.
type PacketType byte

const (
	PacketTypeHandshake    PacketType = 0x23
	PacketTypeHandshakeAck PacketType = 0x28
	PacketTypeDeviceInfo   PacketType = 0x43
	PacketTypeInfoAck      PacketType = 0x48
	PacketTypeData         PacketType = 0x73
	PacketTypeDataAck      PacketType = 0x7B
	PacketTypeStatus       PacketType = 0x83
	PacketTypeStatusAck    PacketType = 0x88
	PacketTypeHeartbeat    PacketType = 0xD3
	PacketTypeHeartbeatAck PacketType = 0xD8
)

// String renders the packet type using its protocol name, matching the
// format used in structured log fields throughout this package.
func (t PacketType) String() string {
	switch t {
	case PacketTypeHandshake:
		return "handshake"
	case PacketTypeHandshakeAck:
		return "handshake_ack"
	case PacketTypeDeviceInfo:
		return "device_info"
	case PacketTypeInfoAck:
		return "info_ack"
	case PacketTypeData:
		return "data"
	case PacketTypeDataAck:
		return "data_ack"
	case PacketTypeStatus:
		return "status"
	case PacketTypeStatusAck:
		return "status_ack"
	case PacketTypeHeartbeat:
		return "heartbeat"
	case PacketTypeHeartbeatAck:
		return "heartbeat_ack"
	default:
		return "unknown"
	}
}

// isKnown reports whether t is one of the ten packet types the codec
// recognises. Any other value is a decode error.
func (t PacketType) isKnown() bool {
	switch t {
	case PacketTypeHandshake, PacketTypeHandshakeAck,
		PacketTypeDeviceInfo, PacketTypeInfoAck,
		PacketTypeData, PacketTypeDataAck,
		PacketTypeStatus, PacketTypeStatusAck,
		PacketTypeHeartbeat, PacketTypeHeartbeatAck:
		return true
	}
	return false
}

// isDataBearing reports whether t carries an endpoint/msg_id/payload
// wrapped in 0x7E framing with a trailing checksum byte.
func (t PacketType) isDataBearing() bool {
	return t == PacketTypeData || t == PacketTypeStatus
}

// ackTypeFor returns the ACK packet type paired with a request type,
// per the known type table in the protocol description.
func ackTypeFor(t PacketType) (PacketType, bool) {
	switch t {
	case PacketTypeHandshake:
		return PacketTypeHandshakeAck, true
	case PacketTypeDeviceInfo:
		return PacketTypeInfoAck, true
	case PacketTypeData:
		return PacketTypeDataAck, true
	case PacketTypeStatus:
		return PacketTypeStatusAck, true
	case PacketTypeHeartbeat:
		return PacketTypeHeartbeatAck, true
	}
	return 0, false
}
