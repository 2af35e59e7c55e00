package sink

import (
	"time"

	"github.com/benbjohnson/clock"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Status", func() {
	var (
		mockClock *clock.Mock
		s         *Status
	)
	BeforeEach(func() {
		mockClock = clock.NewMock()
		s = newStatus(mockClock)
	})
	Context("Before start is called", func() {
		It("Should report that nothing has started", func() {
			Expect(s.String()).To(Equal("Upload not started yet"))
			Expect(s.Rate()).To(BeZero())
			Expect(s.Elapsed()).To(BeZero())
		})
	})
	Context("While the upload is running", func() {
		It("Should compute the rate from the elapsed time", func() {
			s.start()
			s.partComplete(2000000)
			s.partComplete(2000000)
			mockClock.Add(2 * time.Second)
			Expect(s.BytesUploaded()).To(Equal(int64(4000000)))
			Expect(s.PartsUploaded()).To(Equal(2))
			Expect(s.RateMBPS()).To(BeNumerically("~", 2.0, 0.001))
			Expect(s.Elapsed()).To(Equal(2 * time.Second))
			Expect(s.String()).To(ContainSubstring("4000000 bytes in 2 parts uploaded"))
		})
	})
	Context("After stop is called", func() {
		It("Should freeze the duration", func() {
			s.start()
			s.partComplete(1000000)
			mockClock.Add(time.Second)
			s.stop()
			mockClock.Add(time.Hour)
			Expect(s.Elapsed()).To(Equal(time.Second))
			Expect(s.RateMBPS()).To(BeNumerically("~", 1.0, 0.001))
			Expect(s.String()).To(ContainSubstring("finished in 1s"))
		})
		It("Should ignore a second stop", func() {
			s.start()
			mockClock.Add(time.Second)
			s.stop()
			mockClock.Add(time.Second)
			s.stop()
			Expect(s.Elapsed()).To(Equal(time.Second))
		})
	})
})
