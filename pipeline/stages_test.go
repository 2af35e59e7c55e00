package pipeline_test

import (
	"bytes"
	"fmt"
	"time"

	. "github.com/Niskarsh/livecapture/pipeline"
	"github.com/benbjohnson/clock"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// source sends one chunk per buffer and closes.
func source(buffers ...[]byte) <-chan Chunk {
	chunks := make(chan Chunk, len(buffers))
	for i, data := range buffers {
		chunks <- Chunk{Number: uint(i), Size: uint(len(data)), Data: data}
	}
	close(chunks)
	return chunks
}

var _ = Describe("Stages", func() {
	Describe("Coalesce", func() {
		Context("When the input doesn't divide evenly", func() {
			It("Emits full chunks and a shorter remainder", func() {
				in := source(randomBytes(3), randomBytes(10), randomBytes(4))
				var sizes []uint
				var offsets []uint
				for chunk := range Coalesce(in, 5) {
					sizes = append(sizes, chunk.Size)
					offsets = append(offsets, chunk.Offset)
					Expect(chunk.Data).To(HaveLen(int(chunk.Size)))
				}
				Expect(sizes).To(Equal([]uint{5, 5, 5, 2}))
				Expect(offsets).To(Equal([]uint{0, 5, 10, 15}))
			})
			It("Preserves the bytes in order", func() {
				buffers := [][]byte{randomBytes(7), randomBytes(1), randomBytes(30)}
				var sent, got bytes.Buffer
				for _, b := range buffers {
					sent.Write(b)
				}
				var number uint
				for chunk := range Coalesce(source(buffers...), 8) {
					Expect(chunk.Number).To(Equal(number))
					number++
					got.Write(chunk.Data)
				}
				Expect(got.Bytes()).To(Equal(sent.Bytes()))
			})
		})
		Context("When the input is empty", func() {
			It("Emits nothing", func() {
				count := 0
				for range Coalesce(source(), 5) {
					count++
				}
				Expect(count).To(Equal(0))
			})
		})
		Context("When size is zero", func() {
			It("Renumbers without regrouping", func() {
				var sizes []uint
				for chunk := range Coalesce(source(randomBytes(3), []byte{}, randomBytes(9)), 0) {
					sizes = append(sizes, chunk.Size)
				}
				Expect(sizes).To(Equal([]uint{3, 9}))
			})
		})
	})

	Describe("Map", func() {
		It("Sends errors instead of failing chunks", func() {
			errors := make(chan error, 10)
			out := Map(source(randomBytes(1), randomBytes(2), randomBytes(3)), errors, func(c Chunk) (Chunk, error) {
				if c.Size == 2 {
					return c, fmt.Errorf("bad chunk %d", c.Number)
				}
				c.Hash = "done"
				return c, nil
			})
			count := 0
			for chunk := range out {
				Expect(chunk.Hash).To(Equal("done"))
				count++
			}
			close(errors)
			Expect(count).To(Equal(2))
			Expect(errors).To(Receive(MatchError("bad chunk 1")))
		})
	})

	Describe("Divide and Join", func() {
		It("Delivers every chunk exactly once", func() {
			buffers := make([][]byte, 25)
			for i := range buffers {
				buffers[i] = randomBytes(1)
			}
			streams := Divide(source(buffers...), 4)
			Expect(streams).To(HaveLen(4))
			seen := map[uint]int{}
			for chunk := range Join(streams...) {
				seen[chunk.Number]++
			}
			Expect(seen).To(HaveLen(25))
			for _, times := range seen {
				Expect(times).To(Equal(1))
			}
		})
		It("Treats a zero divisor as one", func() {
			Expect(Divide(source(), 0)).To(HaveLen(1))
		})
	})

	Describe("Counter", func() {
		It("Counts chunks and bytes", func() {
			chunks, counts := Counter(source(randomBytes(3), randomBytes(5)), nil)
			var last Count
			go func() {
				for range chunks {
				}
			}()
			for count := range counts {
				last = count
			}
			Expect(last.Chunks).To(Equal(uint(2)))
			Expect(last.Bytes).To(Equal(uint(8)))
			Expect(last.Last).To(Equal(uint(5)))
			Expect(last.MeanChunk()).To(Equal(4.0))
		})
		It("Measures elapsed time on the given clock", func() {
			mock := clock.NewMock()
			in := make(chan Chunk)
			chunks, counts := Counter(in, mock)

			in <- Chunk{Number: 0, Size: 1024}
			first := <-counts
			<-chunks
			Expect(first.Elapsed).To(BeZero())

			mock.Add(2 * time.Second)
			in <- Chunk{Number: 1, Size: 3072}
			second := <-counts
			<-chunks
			close(in)

			Expect(second.Elapsed).To(Equal(2 * time.Second))
			Expect(second.Rate()).To(Equal(2048.0))
			Expect(second.RateKiBPS()).To(Equal(2.0))
			Eventually(counts).Should(BeClosed())
		})
		It("Reports no rate before any time has passed", func() {
			Expect(Count{Bytes: 10}.Rate()).To(BeZero())
			Expect(Count{}.MeanChunk()).To(BeZero())
		})
	})
})
