package cync

import "bytes"

// findMarkers returns the offsets of the first and last occurrence of
// the 0x7E frame marker within b. ok is false unless exactly two
// markers are present.
func findMarkers(b []byte) (start, end int, ok bool) {
	first := bytes.IndexByte(b, frameMarker)
	if first < 0 {
		return 0, 0, false
	}
	last := bytes.LastIndexByte(b, frameMarker)
	if last == first {
		return 0, 0, false
	}
	if bytes.Count(b[first:last+1], []byte{frameMarker}) != 2 {
		return 0, 0, false
	}
	return first, last, true
}

// sumChecksum computes the protocol's byte checksum: the sum of inner,
// modulo 256.
func sumChecksum(inner []byte) byte {
	var sum byte
	for _, b := range inner {
		sum += b
	}
	return sum
}

// CalculateChecksum computes the checksum for a data-bearing packet
// given its full on-wire bytes. The checksum covers the bytes strictly
// between the first and last 0x7E marker, excluding the trailing
// checksum byte that immediately precedes the last marker.
//
// The earlier formula seen in the protocol notes ("packet[start+6 ..
// end-1]") does not agree with the worked empty-payload example (a
// packet consisting of just the two markers and a zero checksum) or
// with how encode_data_packet constructs frames; it is treated here as
// a transcription artifact of those notes rather than implemented
// literally. See DESIGN.md.
func CalculateChecksum(packet []byte) (byte, error) {
	start, end, ok := findMarkers(packet)
	if !ok {
		return 0, newPacketDecodeError(ReasonMissingMarkers, packet)
	}
	if end-start < 2 {
		return 0, newPacketDecodeError(ReasonMissingMarkers, packet)
	}
	inner := packet[start+1 : end-1]
	return sumChecksum(inner), nil
}
