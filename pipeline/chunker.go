package pipeline

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// DefaultChunkSize is the size of the sub-buffers a Chunker forwards when
// the caller doesn't choose one.
const DefaultChunkSize uint = 64 * kibibyte

const kibibyte uint = 1024

// State is the lifecycle token of a Chunker. It only ever moves forward,
// Open to Closing to Closed.
type State int32

const (
	Open State = iota
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Chunker splits incoming capture buffers into Chunks of at most chunkSize
// bytes and sends them, in arrival and offset order, on a single channel.
// After OnStop no further Chunk is sent and the channel is closed.
type Chunker struct {
	chunkSize uint
	state     int32
	stopping  chan struct{}

	// mu serialises sends with the close in OnStop.
	mu     sync.Mutex
	out    chan Chunk
	number uint
	offset uint
}

// NewChunker creates an open Chunker. depth is the capacity of the outbound
// channel; zero makes every send wait for the consumer.
func NewChunker(chunkSize uint, depth uint) *Chunker {
	return &Chunker{
		chunkSize: chunkSize,
		stopping:  make(chan struct{}),
		out:       make(chan Chunk, depth),
	}
}

// Chunks returns the channel that Chunks are forwarded on. It is closed by
// the first call to OnStop.
func (c *Chunker) Chunks() <-chan Chunk {
	return c.out
}

// State reports where the Chunker is in its lifecycle.
func (c *Chunker) State() State {
	return State(atomic.LoadInt32(&c.state))
}

// OnData forwards data as a sequence of sub-buffers and returns how many were
// sent. Zero-length data is ignored. The state is checked again before each
// sub-buffer, so a concurrent OnStop cuts the sequence short.
func (c *Chunker) OnData(data []byte) uint {
	if len(data) == 0 || c.State() != Open {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var forwarded uint
	for _, region := range Split(data, c.chunkSize) {
		if c.State() != Open {
			return forwarded
		}
		chunk := Chunk{
			Number: c.number,
			Offset: c.offset,
			Size:   uint(len(region)),
			Data:   bytes.Clone(region),
		}
		select {
		case c.out <- chunk:
		case <-c.stopping:
			return forwarded
		}
		c.number++
		c.offset += chunk.Size
		forwarded++
	}
	return forwarded
}

// OnStop closes the Chunker and signals end-of-sequence by closing the
// Chunks channel. Only the first call has any effect; it reports whether
// this call was the one that closed the Chunker.
func (c *Chunker) OnStop() bool {
	if !atomic.CompareAndSwapInt32(&c.state, int32(Open), int32(Closing)) {
		return false
	}
	close(c.stopping)
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.out)
	atomic.StoreInt32(&c.state, int32(Closed))
	return true
}

// Run passes every buffer received on raw to OnData, and calls OnStop once
// raw is closed. Buffers that arrive after an earlier OnStop are discarded.
func (c *Chunker) Run(raw <-chan []byte) {
	for data := range raw {
		c.OnData(data)
	}
	c.OnStop()
}
