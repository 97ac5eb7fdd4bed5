package cync

import "testing"

func TestCalculateChecksumEmptyPayload(t *testing.T) {
	// Just the two markers and a zero checksum: the worked empty
	// payload example.
	packet := []byte{frameMarker, 0x00, frameMarker}
	got, err := CalculateChecksum(packet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("got checksum %d, want 0", got)
	}
}

func TestCalculateChecksumSumsInner(t *testing.T) {
	inner := []byte{0x01, 0x02, 0x03}
	packet := append([]byte{frameMarker}, inner...)
	packet = append(packet, sumChecksum(inner), frameMarker)

	got, err := CalculateChecksum(packet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := byte(0x01 + 0x02 + 0x03); got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}

func TestCalculateChecksumWraps(t *testing.T) {
	inner := []byte{0xFF, 0xFF, 0x02}
	want := sumChecksum(inner) // 0xFF+0xFF+0x02 mod 256 = 0x00
	if want != 0x00 {
		t.Fatalf("test setup: expected wraparound to 0, got %#x", want)
	}
	packet := append([]byte{frameMarker}, inner...)
	packet = append(packet, want, frameMarker)

	got, err := CalculateChecksum(packet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("got %#x, want %#x", got, want)
	}
}

func TestCalculateChecksumMissingMarkers(t *testing.T) {
	cases := [][]byte{
		nil,
		{0x01, 0x02},
		{frameMarker, 0x01, 0x02},             // only one marker
		{0x01, frameMarker, 0x02, frameMarker, frameMarker}, // three markers
	}
	for _, packet := range cases {
		if _, err := CalculateChecksum(packet); err == nil {
			t.Errorf("packet %x: expected missing-markers error, got none", packet)
		} else if pde, ok := err.(*PacketDecodeError); !ok || pde.Reason != ReasonMissingMarkers {
			t.Errorf("packet %x: got %v, want ReasonMissingMarkers", packet, err)
		}
	}
}
