package sink

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Progress is a snapshot of an upload, delivered after each stored part.
// Total is -1 while the size of the object is still unknown.
type Progress struct {
	Key    string
	Loaded int64
	Total  int64
	Parts  int
}

// currentStatus is a copy of the state of an upload at one point in time.
type currentStatus struct {
	now            time.Time
	bytesUploaded  int64
	partsUploaded  int
	uploadStarted  time.Time
	uploadDuration time.Duration
}

// rate computes the upload rate of the observed upload in bytes per second.
func (s currentStatus) rate() float64 {
	if s.uploadStarted.IsZero() {
		return 0.0
	}
	elapsed := s.uploadDuration
	if elapsed == 0 {
		elapsed = s.now.Sub(s.uploadStarted)
	}
	if elapsed <= 0 {
		return 0.0
	}
	return float64(s.bytesUploaded) / elapsed.Seconds()
}

// String generates a status message out of the currentStatus struct
func (s currentStatus) String() string {
	if s.uploadStarted.IsZero() {
		return "Upload not started yet"
	} else if s.uploadDuration != 0 {
		return fmt.Sprintf(
			"Upload of %d bytes in %d parts finished in %s at approximately %2.2f MB/sec",
			s.bytesUploaded,
			s.partsUploaded,
			s.uploadDuration,
			s.rate()/(1000*1000))
	}
	return fmt.Sprintf(
		"[%s] %d bytes in %d parts uploaded\tAverage Upload Speed %03.2f MB/sec",
		s.now.Format(time.RFC3339),
		s.bytesUploaded,
		s.partsUploaded,
		s.rate()/(1000*1000))
}

// Status monitors the current status of an upload. It is safe for
// concurrent use.
type Status struct {
	mu      sync.Mutex
	clock   clock.Clock
	current currentStatus
}

func newStatus(c clock.Clock) *Status {
	return &Status{clock: c}
}

// start begins timing the upload
func (s *Status) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.uploadStarted = s.clock.Now()
}

// stop finalizes the duration of the upload
func (s *Status) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.uploadStarted.IsZero() || s.current.uploadDuration != 0 {
		return
	}
	s.current.uploadDuration = s.clock.Since(s.current.uploadStarted)
	if s.current.uploadDuration == 0 {
		s.current.uploadDuration = time.Nanosecond
	}
}

// partComplete marks that one part of size bytes has been stored and
// returns the new totals.
func (s *Status) partComplete(size int64) (int64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.bytesUploaded += size
	s.current.partsUploaded++
	return s.current.bytesUploaded, s.current.partsUploaded
}

// getCurrent retrieves a copy of the current upload status.
func (s *Status) getCurrent() currentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.current
	snapshot.now = s.clock.Now()
	return snapshot
}

// BytesUploaded returns how many bytes have been stored so far.
func (s *Status) BytesUploaded() int64 {
	return s.getCurrent().bytesUploaded
}

// PartsUploaded returns how many parts have been stored so far.
func (s *Status) PartsUploaded() int {
	return s.getCurrent().partsUploaded
}

// Rate computes the observed rate of upload in bytes / second.
func (s *Status) Rate() float64 {
	return s.getCurrent().rate()
}

// RateMBPS computes the observed rate of upload in megabytes / second.
func (s *Status) RateMBPS() float64 {
	return s.Rate() / 1e6
}

// Elapsed is how long the upload has been running, or how long it took
// once it has finished.
func (s *Status) Elapsed() time.Duration {
	current := s.getCurrent()
	if current.uploadStarted.IsZero() {
		return 0
	} else if current.uploadDuration != 0 {
		return current.uploadDuration
	}
	return current.now.Sub(current.uploadStarted)
}

// String creates a status message from the current state of the status.
func (s *Status) String() string {
	return s.getCurrent().String()
}
