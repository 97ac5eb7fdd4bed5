package simulator

import (
	"math/rand"
	"time"
)

// ChaosConfig independently configures every form of injected fault
// the simulator applies to outbound responses.
type ChaosConfig struct {
	// LatencyMean/LatencyVariance add a random delay before every
	// outbound response: delay = mean + uniform(-variance, +variance).
	LatencyMean     time.Duration
	LatencyVariance time.Duration

	// DropRate drops a response with this probability, unless
	// DropPattern is non-empty, in which case DropPattern takes
	// precedence for reproducible CI runs.
	DropRate float64
	// DropPattern is a set of 1-indexed outbound packet numbers to
	// drop unconditionally.
	DropPattern map[int]bool

	// DuplicateRate duplicates a response with this probability.
	DuplicateRate float64

	// ReorderRate inserts an additional delay before sending, to
	// simulate out-of-order delivery without a reorder buffer (and
	// the background-task races one would introduce).
	ReorderRate  float64
	ReorderDelay time.Duration

	// CorruptRate corrupts a response with this probability by
	// flipping CorruptBytes randomly chosen bytes anywhere in the
	// packet (at least one; a byte chosen twice flips back).
	CorruptRate  float64
	CorruptBytes int
}

// chaosEngine applies a ChaosConfig to a stream of outbound packets.
// It is not safe for concurrent use from multiple goroutines; the
// simulator serializes outbound sends per connection.
type chaosEngine struct {
	cfg   ChaosConfig
	rng   *rand.Rand
	count int
}

func newChaosEngine(cfg ChaosConfig, seed int64) *chaosEngine {
	return &chaosEngine{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// outcome describes what should happen to one outbound packet.
type outcome struct {
	drop      bool
	duplicate bool
	delay     time.Duration
	corrupt   bool
}

func (c *chaosEngine) next() outcome {
	c.count++
	o := outcome{}

	if c.cfg.DropPattern[c.count] {
		o.drop = true
	} else if len(c.cfg.DropPattern) == 0 && c.cfg.DropRate > 0 && c.rng.Float64() < c.cfg.DropRate {
		o.drop = true
	}

	if c.cfg.LatencyMean > 0 || c.cfg.LatencyVariance > 0 {
		jitter := time.Duration(0)
		if c.cfg.LatencyVariance > 0 {
			jitter = time.Duration(c.rng.Int63n(int64(2*c.cfg.LatencyVariance))) - c.cfg.LatencyVariance
		}
		o.delay += c.cfg.LatencyMean + jitter
	}

	if c.cfg.ReorderRate > 0 && c.rng.Float64() < c.cfg.ReorderRate {
		o.delay += c.cfg.ReorderDelay
	}

	if c.cfg.DuplicateRate > 0 && c.rng.Float64() < c.cfg.DuplicateRate {
		o.duplicate = true
	}

	if c.cfg.CorruptRate > 0 && c.rng.Float64() < c.cfg.CorruptRate {
		o.corrupt = true
	}

	return o
}

// corruptBytes flips cfg.CorruptBytes randomly chosen bytes of b in
// place.
func (c *chaosEngine) corruptBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	n := c.cfg.CorruptBytes
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		idx := c.rng.Intn(len(b))
		b[idx] ^= 0xFF
	}
}
