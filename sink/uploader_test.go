package sink_test

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/Niskarsh/livecapture/pipeline"
	"github.com/Niskarsh/livecapture/sink"
	"github.com/Niskarsh/livecapture/sink/mock"
	"github.com/benbjohnson/clock"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// feed sends data to a new channel in pieces of at most size bytes.
func feed(data []byte, size uint) <-chan pipeline.Chunk {
	chunks := make(chan pipeline.Chunk)
	go func() {
		defer close(chunks)
		var offset uint
		for i, region := range pipeline.Split(data, size) {
			chunks <- pipeline.Chunk{Number: uint(i), Offset: offset, Size: uint(len(region)), Data: region}
			offset += uint(len(region))
		}
	}()
	return chunks
}

func randomData(size int) []byte {
	data := make([]byte, size)
	_, _ = rand.Read(data)
	return data
}

var _ = Describe("Uploader", func() {
	var (
		dest *mock.BufferDestination
		opts sink.Options
		ctx  context.Context
	)

	BeforeEach(func() {
		dest = mock.NewBufferDestination()
		opts = sink.Options{PartSize: 10, Workers: 3, RetryWait: -1}
		ctx = context.Background()
	})

	Describe("Creating an Uploader", func() {
		Context("With valid input", func() {
			It("Should not return an error", func() {
				_, err := sink.NewUploader(dest, "object", opts)
				Expect(err).ShouldNot(HaveOccurred())
			})
		})
		Context("With an empty key", func() {
			It("Should return ErrEmptyKey", func() {
				_, err := sink.NewUploader(dest, "", opts)
				Expect(errors.Is(err, sink.ErrEmptyKey)).To(BeTrue())
			})
		})
		Context("With a nil destination", func() {
			It("Should return an error", func() {
				_, err := sink.NewUploader(nil, "object", opts)
				Expect(err).Should(HaveOccurred())
			})
		})
		Context("With a part size below the destination minimum", func() {
			It("Should return an error", func() {
				dest.SetMinPartSize(100)
				_, err := sink.NewUploader(dest, "object", opts)
				Expect(err).Should(HaveOccurred())
			})
		})
	})

	Describe("Uploading a stream", func() {
		It("Should store the bytes in order as one object", func() {
			data := randomData(95)
			uploader, err := sink.NewUploader(dest, "object", opts)
			Expect(err).ShouldNot(HaveOccurred())
			uploader.Start(ctx, feed(data, 7))
			Eventually(uploader.Done()).Should(BeClosed())

			result := uploader.Result()
			Expect(result.Err).ShouldNot(HaveOccurred())
			Expect(result.Bytes).To(Equal(int64(95)))
			Expect(result.Parts).To(Equal(10))
			Expect(result.Empty).To(BeFalse())
			Expect(result.Location).To(Equal("mem://object"))
			object, ok := dest.Object("object")
			Expect(ok).To(BeTrue())
			Expect(object).To(Equal(data))
			Expect(dest.Pending()).To(BeEmpty())
		})

		It("Should report progress after every part", func() {
			var seen []sink.Progress
			progress := make(chan sink.Progress, 16)
			opts.OnProgress = func(p sink.Progress) { progress <- p }
			uploader, _ := sink.NewUploader(dest, "object", opts)
			uploader.Start(ctx, feed(randomData(25), 25))
			Eventually(uploader.Done()).Should(BeClosed())
			close(progress)
			for p := range progress {
				seen = append(seen, p)
			}
			Expect(seen).To(HaveLen(3))
			Expect(seen[2].Loaded).To(Equal(int64(25)))
			Expect(seen[2].Parts).To(Equal(3))
			Expect(seen[2].Total).To(Equal(int64(-1)))
			Expect(uploader.Status().BytesUploaded()).To(Equal(int64(25)))
			Expect(uploader.Status().PartsUploaded()).To(Equal(3))
		})

		It("Should keep the stored metadata", func() {
			opts.Metadata = sink.Metadata{ContentType: "video/webm"}
			uploader, _ := sink.NewUploader(dest, "object", opts)
			uploader.Start(ctx, feed(randomData(12), 4))
			_, err := uploader.Wait(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(dest.Metadata("object").ContentType).To(Equal("video/webm"))
		})

		It("Should count every part sent to a destination that keeps nothing", func() {
			uploader, err := sink.NewUploader(mock.NewNullDestination(), "object", opts)
			Expect(err).ShouldNot(HaveOccurred())
			uploader.Start(ctx, feed(randomData(35), 7))
			result, err := uploader.Wait(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(result.Bytes).To(Equal(int64(35)))
			Expect(result.Parts).To(Equal(4))
			Expect(result.UploadID).To(Equal("null"))
			Expect(uploader.Status().BytesUploaded()).To(Equal(int64(35)))
			Expect(uploader.Status().PartsUploaded()).To(Equal(4))
		})
		It("Should ignore a second Start", func() {
			data := randomData(20)
			uploader, _ := sink.NewUploader(dest, "object", opts)
			uploader.Start(ctx, feed(data, 20))
			uploader.Start(ctx, feed(randomData(20), 20))
			result, err := uploader.Wait(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(result.Bytes).To(Equal(int64(20)))
			object, _ := dest.Object("object")
			Expect(object).To(Equal(data))
		})
	})

	Describe("Uploading an empty stream", func() {
		It("Should store an empty object without a multipart upload", func() {
			uploader, _ := sink.NewUploader(dest, "empty", opts)
			uploader.Start(ctx, feed(nil, 10))
			result, err := uploader.Wait(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(result.Empty).To(BeTrue())
			Expect(result.UploadID).To(BeEmpty())
			object, ok := dest.Object("empty")
			Expect(ok).To(BeTrue())
			Expect(object).To(BeEmpty())
		})
	})

	Describe("Retrying parts", func() {
		Context("When a part fails fewer times than the attempt limit", func() {
			It("Should still complete the object", func() {
				dest.FailPart(2, 3)
				data := randomData(30)
				uploader, _ := sink.NewUploader(dest, "object", opts)
				uploader.Start(ctx, feed(data, 30))
				_, err := uploader.Wait(ctx)
				Expect(err).ShouldNot(HaveOccurred())
				Expect(dest.Attempts(2)).To(Equal(4))
				object, _ := dest.Object("object")
				Expect(object).To(Equal(data))
			})
		})
		Context("When a part keeps failing", func() {
			It("Should abort the upload with a PartError", func() {
				dest.FailPart(1, -1)
				uploader, _ := sink.NewUploader(dest, "object", opts)
				uploader.Start(ctx, feed(randomData(30), 30))
				result, err := uploader.Wait(ctx)
				Expect(err).Should(HaveOccurred())
				var partErr *sink.PartError
				Expect(errors.As(err, &partErr)).To(BeTrue())
				Expect(partErr.Number).To(Equal(1))
				Expect(partErr.Attempts).To(Equal(sink.DefaultMaxAttempts))
				Expect(dest.Attempts(1)).To(Equal(int(sink.DefaultMaxAttempts)))
				Expect(dest.Aborted()).To(ConsistOf(result.UploadID))
				Expect(dest.Keys()).To(BeEmpty())
			})
		})
		Context("When a retry wait is set", func() {
			It("Should wait the base interval before the first retry", func() {
				fake := clock.NewMock()
				opts.Clock = fake
				opts.RetryWait = time.Second
				dest.FailPart(1, 1)
				uploader, _ := sink.NewUploader(dest, "object", opts)
				uploader.Start(ctx, feed(randomData(30), 30))
				Eventually(func() int { return dest.Attempts(1) }).Should(Equal(1))

				var advanced time.Duration
				Eventually(func() int {
					fake.Add(100 * time.Millisecond)
					advanced += 100 * time.Millisecond
					return dest.Attempts(1)
				}).Should(Equal(2))
				Expect(advanced).To(BeNumerically(">=", time.Second))
				Expect(advanced).To(BeNumerically("<", 2*time.Second))

				_, err := uploader.Wait(ctx)
				Expect(err).ShouldNot(HaveOccurred())
			})
		})
		Context("When parts are left on error", func() {
			It("Should not abort the upload", func() {
				dest.FailPart(1, -1)
				opts.Cleanup = sink.CleanupLeave
				uploader, _ := sink.NewUploader(dest, "object", opts)
				uploader.Start(ctx, feed(randomData(30), 30))
				result, err := uploader.Wait(ctx)
				Expect(err).Should(HaveOccurred())
				Expect(dest.Aborted()).To(BeEmpty())
				Expect(dest.Pending()).To(ConsistOf(result.UploadID))
			})
		})
	})

	Describe("Failing to begin", func() {
		It("Should report the error and still drain the input", func() {
			uploader, _ := sink.NewUploader(mock.NewErrorDestination(), "object", opts)
			chunks := make(chan pipeline.Chunk)
			uploader.Start(ctx, chunks)
			for i := 0; i < 10; i++ {
				Eventually(chunks).Should(BeSent(pipeline.Chunk{Number: uint(i), Size: 10, Data: randomData(10)}))
			}
			close(chunks)
			_, err := uploader.Wait(ctx)
			Expect(err).Should(HaveOccurred())
		})
	})

	Describe("Cancelling the upload", func() {
		It("Should fail the upload and abort its parts", func() {
			dest.Hold()
			defer dest.Release()
			cancelled, cancel := context.WithCancel(ctx)
			uploader, _ := sink.NewUploader(dest, "object", opts)
			uploader.Start(cancelled, feed(randomData(30), 30))
			Consistently(uploader.Done(), 50*time.Millisecond).ShouldNot(BeClosed())
			cancel()
			result, err := uploader.Wait(ctx)
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(dest.Aborted()).To(ConsistOf(result.UploadID))
		})
	})

	Describe("Waiting with a deadline", func() {
		It("Should return the context error when the upload is still running", func() {
			dest.Hold()
			defer dest.Release()
			uploader, _ := sink.NewUploader(dest, "object", opts)
			uploader.Start(ctx, feed(randomData(30), 30))
			short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			_, err := uploader.Wait(short)
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		})
	})
})
