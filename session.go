package livecapture

import (
	"context"
	"sync"

	"github.com/Niskarsh/livecapture/capture"
	"github.com/Niskarsh/livecapture/events"
	"github.com/Niskarsh/livecapture/metrics"
	"github.com/Niskarsh/livecapture/pipeline"
	"github.com/Niskarsh/livecapture/sink"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// SessionResult is how a session's upload ended.
type SessionResult struct {
	Kind     capture.Kind
	Key      string
	Location string
	Bytes    int64
	Parts    int
	Empty    bool
	// Err is the upload failure, if any.
	Err error
	// CaptureErr is set when the device failed before the session was stopped.
	CaptureErr error
}

// Session records one device into one object. It owns the device, the
// encoder, the chunker and the uploader; nothing is shared between
// sessions.
type Session struct {
	kind     capture.Kind
	key      string
	device   capture.Device
	encoder  capture.Encoder
	chunker  *pipeline.Chunker
	uploader *sink.Uploader
	notifier events.Notifier
	metrics  *metrics.Collectors
	log      zerolog.Logger
	clock    clock.Clock

	stopOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	count   pipeline.Count
	result  SessionResult
	stopped bool
}

func (s *Session) Kind() capture.Kind {
	return s.kind
}

// Key is the name of the object the session records into.
func (s *Session) Key() string {
	return s.key
}

func (s *Session) MimeType() string {
	return s.encoder.MimeType()
}

// Device is the live device, for display only.
func (s *Session) Device() capture.Device {
	return s.device
}

// State reports whether the session still forwards data.
func (s *Session) State() pipeline.State {
	return s.chunker.State()
}

// Forwarded is a count of what the session has handed to its upload.
func (s *Session) Forwarded() pipeline.Count {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Status is the progress of the session's upload.
func (s *Session) Status() *sink.Status {
	return s.uploader.Status()
}

// Done is closed once the upload has finished and its result is known.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result is only meaningful once Done is closed.
func (s *Session) Result() SessionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// run wires the encoder through the chunker into the uploader. ctx bounds
// the upload, not the capture.
func (s *Session) run(ctx context.Context) {
	counted, counts := pipeline.Counter(s.chunker.Chunks(), s.clock)
	go func() {
		for count := range counts {
			s.metrics.Forwarded(s.kind, int(count.Last))
			s.mu.Lock()
			s.count = count
			s.mu.Unlock()
		}
	}()
	s.uploader.Start(ctx, counted)
	go s.chunker.Run(s.encoder.Data())
	go s.watch()
}

// watch releases the device if capture ends on its own and publishes the
// upload's outcome.
func (s *Session) watch() {
	select {
	case <-s.encoder.Stopped():
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if !stopped {
			event := s.log.Warn()
			if err := s.encoder.Err(); err != nil {
				event = s.log.Error().Err(err)
			}
			event.Msg("capture ended before stop")
			s.device.Stop()
		}
	case <-s.uploader.Done():
	}

	result := s.uploader.Result()
	s.mu.Lock()
	s.result = SessionResult{
		Kind:     s.kind,
		Key:      s.key,
		Location: result.Location,
		Bytes:    result.Bytes,
		Parts:    result.Parts,
		Empty:    result.Empty,
		Err:      result.Err,
	}
	if !s.stopped {
		s.result.CaptureErr = s.encoder.Err()
	}
	final := s.result
	s.mu.Unlock()

	s.metrics.UploadFinished(s.kind, final.Err)
	event := events.Event{
		Key:       s.key,
		Kind:      s.kind,
		Action:    events.UploadCompleted,
		Bytes:     final.Bytes,
		Parts:     final.Parts,
		Location:  final.Location,
		Timestamp: s.clock.Now(),
	}
	if final.Err != nil {
		event.Action = events.UploadFailed
		event.Error = final.Err.Error()
		s.log.Error().Err(final.Err).Msg("upload failed")
	} else {
		s.log.Info().Int64("bytes", final.Bytes).Int("parts", final.Parts).Str("location", final.Location).
			Float64("forwarded_kibps", s.Forwarded().RateKiBPS()).Msg("upload finished")
	}
	s.notify(event)
	close(s.done)
}

// stop ends capture. The stop event is published before the chunker is
// closed so that it always precedes the upload's outcome. The chunker is
// closed before the encoder flushes, which keeps that final flush out of
// the upload.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.notify(events.Event{Key: s.key, Kind: s.kind, Action: events.StopStreaming, Timestamp: s.clock.Now()})
		s.chunker.OnStop()
		s.encoder.Stop()
		s.device.Stop()
	})
}

func (s *Session) notify(event events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("action", string(event.Action)).Msg("failed to publish session event")
	}
}
