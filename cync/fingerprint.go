package cync

import (
	"crypto/sha256"
	"encoding/hex"
)

// dedupKeyFor computes the Full Fingerprint used by the receive path
// to detect duplicate receptions: packet_type || endpoint || msg_id ||
// the first 16 hex characters of sha256(payload). It is deterministic
// across reception events for the same logical packet and must never
// be confused with a correlation id, which is fresh on every call.
func dedupKeyFor(p *Packet) string {
	sum := sha256.Sum256(p.Payload)
	return hex.EncodeToString([]byte{byte(p.Type)}) +
		hex.EncodeToString(p.Endpoint[:]) +
		hex.EncodeToString(p.MsgID[:]) +
		hex.EncodeToString(sum[:])[:16]
}
