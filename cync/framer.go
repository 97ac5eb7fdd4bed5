package cync

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Framer extracts complete packet byte-slices from an arbitrary TCP
// read boundary. It is the component standing between a raw
// connection and the codec, and is the thing a hostile or corrupted
// peer is attacking when it tries to drive memory use unbounded or
// force O(n²) rescans of garbage.
type Framer struct {
	logger log.Logger
	sink   Sink
	buf    []byte
}

// NewFramer returns a Framer ready to accept bytes. A nil logger
// disables logging; a nil sink disables metrics.
func NewFramer(logger log.Logger, sink Sink) *Framer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Framer{logger: logger, sink: sinkOrNoop(sink)}
}

// Feed appends b to the internal buffer and returns every complete
// packet now extractable from it, in arrival order. Incomplete
// trailing data remains buffered for the next call.
func (f *Framer) Feed(b []byte) [][]byte {
	f.buf = append(f.buf, b...)

	maxAttempts := clamp(len(f.buf)/headerLen, 100, 1000)
	attempts := 0
	var out [][]byte

	for {
		if len(f.buf) < headerLen {
			break
		}
		length := uint16(f.buf[3])*256 + uint16(f.buf[4])
		if length > MaxPacketSize {
			attempts++
			f.sink.IncCounter(metricFramingErrors, map[string]string{"outcome": "resync"})
			if attempts > maxAttempts {
				level.Warn(f.logger).Log("msg", "framer discarding buffer after exceeding recovery attempts", "buffer_len", len(f.buf))
				f.sink.IncCounter(metricFramingErrors, map[string]string{"outcome": "buffer_discarded"})
				f.buf = nil
				break
			}
			f.buf = f.buf[headerLen:]
			continue
		}
		total := headerLen + int(length)
		if len(f.buf) < total {
			break
		}
		pkt := make([]byte, total)
		copy(pkt, f.buf[:total])
		out = append(out, pkt)
		f.buf = f.buf[total:]
	}
	return out
}

// Reset discards any buffered bytes.
func (f *Framer) Reset() {
	f.buf = nil
}

// Buffered returns the number of bytes currently held, unconsumed.
func (f *Framer) Buffered() int {
	return len(f.buf)
}
