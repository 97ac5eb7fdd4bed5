// Package simulator is a test-only device-side double: a minimal TCP
// server that speaks the same cync.Codec/cync.Framer wire protocol as
// a real bulb or switch, with configurable chaos injection, used for
// integration and chaos tests against a real ReliableTransport.
package simulator

import "sync"

// DeviceState is the mutable state a real bulb or switch would carry,
// mutated by decoded commands the same way the real firmware would.
type DeviceState struct {
	mu sync.Mutex

	On          bool
	Brightness  uint8
	ColorTempK  uint16
	R, G, B     uint8
	ToggleCount uint64
}

// ApplyCommand interprets a decoded data-packet payload as a command
// and mutates state accordingly. The command encoding mirrors the toy
// format used in the worked examples: byte 0 selects the command,
// remaining bytes are its arguments.
func (d *DeviceState) ApplyCommand(payload []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(payload) == 0 {
		return
	}
	switch payload[0] {
	case 0x0d: // toggle
		d.On = !d.On
		d.ToggleCount++
	case 0x0e: // set brightness
		if len(payload) > 1 {
			d.Brightness = payload[1]
		}
	case 0x0f: // set color temp (big-endian Kelvin/10)
		if len(payload) > 2 {
			d.ColorTempK = uint16(payload[1])<<8 | uint16(payload[2])
		}
	case 0x10: // set RGB
		if len(payload) > 3 {
			d.R, d.G, d.B = payload[1], payload[2], payload[3]
		}
	}
}

// Snapshot returns a copy of the current state for inspection by
// tests without holding the lock open.
func (d *DeviceState) Snapshot() DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DeviceState{
		On: d.On, Brightness: d.Brightness, ColorTempK: d.ColorTempK,
		R: d.R, G: d.G, B: d.B, ToggleCount: d.ToggleCount,
	}
}
