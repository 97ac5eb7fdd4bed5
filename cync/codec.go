package cync

// This file implements the wire codec: the set of encode_* functions
// and decode_packet described in the protocol notes. Every packet on
// the wire begins with a 5 byte header (type, a 2 byte flags field
// that this implementation reserves and always writes as zero, and a
// big-endian length covering everything that follows). Data-bearing
// packets (0x73, 0x83) additionally wrap their payload in 0x7E ...
// checksum ... 0x7E framing.

func buildHeader(t PacketType, length uint16) []byte {
	h := make([]byte, headerLen)
	h[0] = byte(t)
	h[1] = 0
	h[2] = 0
	h[3] = byte(length >> 8)
	h[4] = byte(length)
	return h
}

func encodeHeaderOnly(t PacketType) []byte {
	return buildHeader(t, 0)
}

// EncodeHandshake produces a 0x23 packet: the endpoint occupies
// bytes[5..10] and authCode fills the remainder of the payload.
func EncodeHandshake(endpoint [5]byte, authCode []byte) ([]byte, error) {
	return encodeEndpointPacket(PacketTypeHandshake, endpoint, authCode)
}

// EncodeDeviceInfo produces a 0x43 packet carrying endpoint and an
// opaque device-info payload, framed the same way as a handshake.
func EncodeDeviceInfo(endpoint [5]byte, payload []byte) ([]byte, error) {
	return encodeEndpointPacket(PacketTypeDeviceInfo, endpoint, payload)
}

func encodeEndpointPacket(t PacketType, endpoint [5]byte, payload []byte) ([]byte, error) {
	body := make([]byte, 0, endpointLen+len(payload))
	body = append(body, endpoint[:]...)
	body = append(body, payload...)
	if len(body) > MaxPacketSize {
		return nil, &PacketFramingError{Reason: ReasonPacketTooLarge}
	}
	out := buildHeader(t, uint16(len(body)))
	return append(out, body...), nil
}

// EncodeDataPacket produces a 0x73 packet: header(5) | endpoint(5) |
// msg_id(2) | padding(1, 0x00) | 0x7E | payload | checksum | 0x7E.
func EncodeDataPacket(endpoint [5]byte, msgID [2]byte, payload []byte) ([]byte, error) {
	return encodeFramedPacket(PacketTypeData, endpoint, msgID, payload, true)
}

// EncodeStatusBroadcast produces a 0x83 packet. It differs from
// EncodeDataPacket only in omitting the padding byte between msg_id
// and the first 0x7E marker.
func EncodeStatusBroadcast(endpoint [5]byte, msgID [2]byte, payload []byte) ([]byte, error) {
	return encodeFramedPacket(PacketTypeStatus, endpoint, msgID, payload, false)
}

func encodeFramedPacket(t PacketType, endpoint [5]byte, msgID [2]byte, payload []byte, pad bool) ([]byte, error) {
	body := make([]byte, 0, endpointLen+msgIDLen+3+len(payload))
	body = append(body, endpoint[:]...)
	body = append(body, msgID[:]...)
	if pad {
		body = append(body, paddingByte)
	}
	body = append(body, frameMarker)
	body = append(body, payload...)
	body = append(body, sumChecksum(payload))
	body = append(body, frameMarker)
	if len(body) > MaxPacketSize {
		return nil, &PacketFramingError{Reason: ReasonPacketTooLarge}
	}
	out := buildHeader(t, uint16(len(body)))
	return append(out, body...), nil
}

// EncodeDataAck produces a 0x7B packet carrying only msg_id; unlike
// the request it acknowledges, it has no endpoint or 0x7E framing.
func EncodeDataAck(msgID [2]byte) []byte {
	out := buildHeader(PacketTypeDataAck, msgIDLen)
	return append(out, msgID[:]...)
}

// EncodeHeartbeat produces a header-only 0xD3 packet. Heartbeats carry
// no endpoint: they predate per-connection endpoint assignment and
// are exchanged for as long as the TCP session is open.
func EncodeHeartbeat() []byte { return encodeHeaderOnly(PacketTypeHeartbeat) }

// EncodeHeartbeatAck produces a header-only 0xD8 packet.
func EncodeHeartbeatAck() []byte { return encodeHeaderOnly(PacketTypeHeartbeatAck) }

// EncodeHelloAck produces a header-only 0x28 packet, acknowledging a
// handshake.
func EncodeHelloAck() []byte { return encodeHeaderOnly(PacketTypeHandshakeAck) }

// EncodeInfoAck produces a header-only 0x48 packet, acknowledging a
// device-info packet.
func EncodeInfoAck() []byte { return encodeHeaderOnly(PacketTypeInfoAck) }

// EncodeStatusAck produces a header-only 0x88 packet, acknowledging a
// status broadcast.
func EncodeStatusAck() []byte { return encodeHeaderOnly(PacketTypeStatusAck) }

// DecodePacket parses a single complete on-wire packet. It never
// inspects bytes beyond the header's declared extent: b may carry
// trailing data and only b[:5+length] is considered.
func DecodePacket(b []byte) (*Packet, error) {
	if len(b) < headerLen {
		return nil, newPacketDecodeError(ReasonTooShort, b)
	}
	t := PacketType(b[0])
	if !t.isKnown() {
		return nil, newPacketDecodeError(ReasonUnknownType, b)
	}
	length := uint16(b[3])*256 + uint16(b[4])
	if length > MaxPacketSize {
		return nil, newPacketDecodeError(ReasonInvalidLength, b)
	}
	if len(b) < headerLen+int(length) {
		return nil, newPacketDecodeError(ReasonTooShort, b)
	}
	raw := b[:headerLen+int(length)]

	p := &Packet{Type: t, Length: length, Raw: raw}
	if t == PacketTypeDataAck && int(length) >= msgIDLen {
		copy(p.MsgID[:], raw[headerLen:headerLen+msgIDLen])
	}
	if !t.isDataBearing() {
		return p, nil
	}

	body := raw[headerLen:]
	minLen := endpointLen + msgIDLen + 3 // marker, checksum, marker
	if t == PacketTypeData {
		minLen++ // padding byte
	}
	if len(body) < minLen {
		return nil, newPacketDecodeError(ReasonMissingMarkers, raw)
	}

	copy(p.Endpoint[:], body[0:endpointLen])
	copy(p.MsgID[:], body[endpointLen:endpointLen+msgIDLen])

	offset := endpointLen + msgIDLen
	if t == PacketTypeData {
		offset++
	}

	start, end, ok := findMarkers(body[offset:])
	if !ok || end-start < 2 {
		return nil, newPacketDecodeError(ReasonMissingMarkers, raw)
	}
	start += offset
	end += offset

	storedChecksum := body[end-1]
	payload := body[start+1 : end-1]
	computed := sumChecksum(payload)
	if computed != storedChecksum {
		return nil, newPacketDecodeError(ReasonInvalidChecksum, raw)
	}

	p.Payload = append([]byte(nil), payload...)
	p.ChecksumValid = true
	return p, nil
}
