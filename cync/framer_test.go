package cync

import (
	"bytes"
	"testing"
)

func TestFramerExtractsCompletePackets(t *testing.T) {
	endpoint := [5]byte{1, 2, 3, 4, 5}
	p1, _ := EncodeHandshake(endpoint, []byte("a"))
	p2, _ := EncodeHandshake(endpoint, []byte("bb"))

	f := NewFramer(nil, nil)
	out := f.Feed(append(append([]byte{}, p1...), p2...))
	if len(out) != 2 {
		t.Fatalf("got %d packets, want 2", len(out))
	}
	if !bytes.Equal(out[0], p1) || !bytes.Equal(out[1], p2) {
		t.Errorf("packets out of order or corrupted")
	}
	if f.Buffered() != 0 {
		t.Errorf("expected empty buffer, got %d bytes", f.Buffered())
	}
}

func TestFramerBuffersIncompletePacket(t *testing.T) {
	endpoint := [5]byte{1, 2, 3, 4, 5}
	p1, _ := EncodeHandshake(endpoint, []byte("hello"))

	f := NewFramer(nil, nil)
	out := f.Feed(p1[:headerLen]) // exactly the 5 header bytes
	if len(out) != 0 {
		t.Fatalf("expected no packets yet, got %d", len(out))
	}
	if f.Buffered() != headerLen {
		t.Errorf("got buffered %d, want %d", f.Buffered(), headerLen)
	}

	out = f.Feed(p1[headerLen:])
	if len(out) != 1 || !bytes.Equal(out[0], p1) {
		t.Fatalf("expected the completed packet, got %v", out)
	}
}

func TestFramerAcrossMultipleFeeds(t *testing.T) {
	endpoint := [5]byte{1, 2, 3, 4, 5}
	p1, _ := EncodeHandshake(endpoint, []byte("x"))

	f := NewFramer(nil, nil)
	var collected [][]byte
	for i := range p1 {
		collected = append(collected, f.Feed(p1[i:i+1])...)
	}
	if len(collected) != 1 || !bytes.Equal(collected[0], p1) {
		t.Fatalf("expected packet assembled byte by byte, got %v", collected)
	}
}

func TestFramerRecoversFromCorruptPrefix(t *testing.T) {
	endpoint := [5]byte{1, 2, 3, 4, 5}
	good, _ := EncodeHandshake(endpoint, []byte("ok"))

	corrupt := bytes.Repeat([]byte{0xFF}, 600) // every 5-byte window declares an invalid length
	stream := append(corrupt, good...)

	f := NewFramer(nil, nil)
	out := f.Feed(stream)
	if len(out) != 1 {
		t.Fatalf("got %d packets, want 1", len(out))
	}
	if !bytes.Equal(out[0], good) {
		t.Errorf("recovered packet does not match")
	}
	if f.Buffered() != 0 {
		t.Errorf("expected empty buffer after recovery, got %d bytes", f.Buffered())
	}
}

func TestFramerDiscardsAfterExceedingRecoveryAttempts(t *testing.T) {
	// A buffer entirely of invalid-length headers, large enough that
	// max_attempts = clamp(len/5, 100, 1000) is exhausted before any
	// valid packet could ever appear.
	stream := bytes.Repeat([]byte{0xFF}, 6000)

	f := NewFramer(nil, nil)
	out := f.Feed(stream)
	if len(out) != 0 {
		t.Fatalf("got %d packets, want 0", len(out))
	}
	if f.Buffered() != 0 {
		t.Errorf("expected buffer discarded, got %d bytes buffered", f.Buffered())
	}
}

func TestFramerRejectsOversizedLength(t *testing.T) {
	// length field = 0xFFFF, which exceeds MaxPacketSize.
	oversized := []byte{byte(PacketTypeHandshake), 0x00, 0x00, 0xFF, 0xFF}
	stream := bytes.Repeat(oversized, 200)

	f := NewFramer(nil, nil)
	out := f.Feed(stream)
	if len(out) != 0 {
		t.Fatalf("got %d packets, want 0", len(out))
	}
}
