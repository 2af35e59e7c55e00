package pipeline

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Count is a running total of what has passed a Counter: the bytes and
// chunks seen so far, the size of the latest chunk, and the time since the
// Counter started.
type Count struct {
	Bytes   uint
	Chunks  uint
	Last    uint
	Elapsed time.Duration
}

// Rate is the average throughput in bytes per second.
func (c Count) Rate() float64 {
	if c.Elapsed <= 0 {
		return 0
	}
	return float64(c.Bytes) / c.Elapsed.Seconds()
}

// RateKiBPS is Rate in KiB per second.
func (c Count) RateKiBPS() float64 {
	return c.Rate() / float64(kibibyte)
}

// MeanChunk is the average chunk size in bytes.
func (c Count) MeanChunk() float64 {
	if c.Chunks == 0 {
		return 0
	}
	return float64(c.Bytes) / float64(c.Chunks)
}

// Counter passes chunks through unchanged and publishes a Count after each.
// The Count channel must be drained alongside the chunks; both are closed
// when the input is. Elapsed is measured on c, or the wall clock when c is
// nil.
func Counter(chunks <-chan Chunk, c clock.Clock) (<-chan Chunk, <-chan Count) {
	if c == nil {
		c = clock.New()
	}
	passed := make(chan Chunk)
	counts := make(chan Count, 1)
	go func() {
		defer close(passed)
		defer close(counts)
		started := c.Now()
		var total Count
		for chunk := range chunks {
			total.Bytes += chunk.Size
			total.Chunks++
			total.Last = chunk.Size
			total.Elapsed = c.Since(started)
			counts <- total
			passed <- chunk
		}
	}()
	return passed, counts
}
