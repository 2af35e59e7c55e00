package pipeline

import "sync"

// Map runs operation on every chunk in order. A chunk whose operation
// fails is dropped and its error sent on errs; the input is still read to
// the end, so upstream stages never block on a failed pipeline.
func Map(chunks <-chan Chunk, errs chan<- error, operation func(Chunk) (Chunk, error)) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		for in := range chunks {
			result, err := operation(in)
			if err != nil {
				errs <- err
				continue
			}
			out <- result
		}
	}()
	return out
}

// Divide deals the chunks round-robin onto n channels so that n copies of
// the next stage can work in parallel. Every returned channel is closed
// once chunks is.
func Divide(chunks <-chan Chunk, n uint) []<-chan Chunk {
	if n == 0 {
		n = 1
	}
	lanes := make([]chan Chunk, n)
	outs := make([]<-chan Chunk, n)
	for i := range lanes {
		lanes[i] = make(chan Chunk)
		outs[i] = lanes[i]
	}
	go func() {
		var next uint
		for chunk := range chunks {
			lanes[next] <- chunk
			next = (next + 1) % n
		}
		for _, lane := range lanes {
			close(lane)
		}
	}()
	return outs
}

// Join merges lanes back into one channel, which is closed after the last
// lane. Chunks from different lanes arrive in no particular order.
func Join(lanes ...<-chan Chunk) <-chan Chunk {
	out := make(chan Chunk)
	var wg sync.WaitGroup
	wg.Add(len(lanes))
	for _, lane := range lanes {
		go func(lane <-chan Chunk) {
			defer wg.Done()
			for chunk := range lane {
				out <- chunk
			}
		}(lane)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Coalesce gathers the incoming chunks into larger chunks of exactly size
// bytes, numbered sequentially from 0 upward. The final chunk holds the
// remainder and may be shorter; nothing is sent for an empty stream. A
// size of zero renumbers the input without regrouping it.
func Coalesce(chunks <-chan Chunk, size uint) <-chan Chunk {
	grouped := make(chan Chunk)
	go func() {
		defer close(grouped)
		var (
			number, offset uint
			pending        []byte
		)
		emit := func(data []byte) {
			grouped <- Chunk{
				Number: number,
				Offset: offset,
				Size:   uint(len(data)),
				Data:   data,
			}
			number++
			offset += uint(len(data))
		}
		for chunk := range chunks {
			if size == 0 {
				if len(chunk.Data) > 0 {
					emit(chunk.Data)
				}
				continue
			}
			pending = append(pending, chunk.Data...)
			for uint(len(pending)) >= size {
				part := make([]byte, size)
				copy(part, pending[:size])
				pending = append(pending[:0], pending[size:]...)
				emit(part)
			}
		}
		if len(pending) > 0 {
			emit(pending)
		}
	}()
	return grouped
}
