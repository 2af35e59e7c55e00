package livecapture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Niskarsh/livecapture/capture"
	"github.com/Niskarsh/livecapture/events"
	"github.com/Niskarsh/livecapture/metrics"
	"github.com/Niskarsh/livecapture/pipeline"
	"github.com/Niskarsh/livecapture/preview"
	"github.com/Niskarsh/livecapture/sink"
	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

const (
	DefaultInterval    = 100 * time.Millisecond
	DefaultStopTimeout = 2 * time.Minute
	defaultDepth       = 16
	notifyTimeout      = 10 * time.Second
)

var (
	// ErrInvalidState is returned by Start unless the controller is Idle
	// and by Stop unless it is Streaming.
	ErrInvalidState = errors.New("invalid controller state")
	// ErrNoSessions is returned by Start when no source could be opened.
	ErrNoSessions = errors.New("no capture source available")
	// ErrStopTimeout is reported for uploads still running when the stop
	// timeout expired. Those uploads are cancelled.
	ErrStopTimeout = errors.New("upload did not finish before the stop timeout")
)

// State is where the controller is in its start/stop cycle.
type State int32

const (
	Idle State = iota
	Starting
	Streaming
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Streaming:
		return "streaming"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// Source is one device to record. A zero Constraints requests the
// defaults for the kind. An Optional source that fails to open is reported
// as a Notice instead of failing Start.
type Source struct {
	Kind        capture.Kind
	Constraints capture.Constraints
	Optional    bool
}

// DefaultSources records the screen, plus the webcam when one is available.
var DefaultSources = []Source{
	{Kind: capture.Screen},
	{Kind: capture.Webcam, Optional: true},
}

type Options struct {
	Provider    capture.Provider
	Encoders    capture.EncoderFactory
	Destination sink.Destination

	Sources   []Source
	MimeTypes []string
	Interval  time.Duration
	ChunkSize uint
	// Depth is how many chunks may wait between a chunker and its upload.
	Depth       uint
	Upload      sink.Options
	StopTimeout time.Duration

	Clock    clock.Clock
	Logger   *zerolog.Logger
	Notifier events.Notifier
	Surface  preview.Surface
	Metrics  *metrics.Collectors
	OnNotice func(Notice)
}

// SessionInfo describes a session that Start opened.
type SessionInfo struct {
	Kind     capture.Kind
	Key      string
	MimeType string
}

type StartReport struct {
	Sessions []SessionInfo
	Notices  []Notice
}

type StopReport struct {
	Results []SessionResult
}

// Controller records one or more sources while streaming and turns each
// into an object at the destination. It is safe for concurrent use.
type Controller struct {
	opts   Options
	clock  clock.Clock
	log    zerolog.Logger
	binder *preview.Binder

	mu       sync.Mutex
	state    State
	sessions []*Session
	cancel   context.CancelFunc
}

// NewController checks opts and fills in the defaults.
func NewController(opts Options) (*Controller, error) {
	var result *multierror.Error
	if opts.Provider == nil {
		result = multierror.Append(result, errors.New("a capture provider is required"))
	}
	if opts.Encoders == nil {
		result = multierror.Append(result, errors.New("an encoder factory is required"))
	}
	if opts.Destination == nil {
		result = multierror.Append(result, errors.New("an upload destination is required"))
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	if len(opts.Sources) == 0 {
		opts.Sources = DefaultSources
	}
	if len(opts.MimeTypes) == 0 {
		opts.MimeTypes = capture.DefaultMimeTypes
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = pipeline.DefaultChunkSize
	}
	if opts.Depth == 0 {
		opts.Depth = defaultDepth
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Notifier == nil {
		opts.Notifier = events.Nop
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Upload.Clock == nil {
		opts.Upload.Clock = opts.Clock
	}
	c := &Controller{
		opts:  opts,
		clock: opts.Clock,
		log:   logger,
	}
	if opts.Surface != nil {
		c.binder = preview.NewBinder(opts.Surface, 0, 0, opts.Clock, logger)
	}
	return c, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Sessions lists the sessions of the current recording.
func (c *Controller) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Session(nil), c.sessions...)
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.log.Debug().Str("state", state.String()).Msg("controller state")
}

func (c *Controller) transition(from, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return fmt.Errorf("%w: cannot go from %s to %s", ErrInvalidState, c.state, to)
	}
	c.state = to
	c.log.Debug().Str("state", to.String()).Msg("controller state")
	return nil
}

func (c *Controller) notice(report *StartReport, n Notice) {
	c.log.Warn().Err(n.Err).Str("kind", string(n.Kind)).Msg(n.Message)
	report.Notices = append(report.Notices, n)
	if c.opts.OnNotice != nil {
		c.opts.OnNotice(n)
	}
}

// opened is a source with its device and encoder.
type opened struct {
	source  Source
	device  capture.Device
	encoder capture.Encoder
}

func (o opened) release() {
	if o.encoder != nil {
		o.encoder.Stop()
		go func(data <-chan []byte) {
			for range data {
			}
		}(o.encoder.Data())
	}
	o.device.Stop()
}

func releaseAll(all []opened) {
	for _, o := range all {
		o.release()
	}
}

// Start opens every source and begins recording. If a required source
// can't be opened or encoded, everything opened so far is released and
// the controller returns to Idle without creating any session. ctx bounds
// opening the devices and binding their previews, never the recording
// itself. The controller stays Starting until every preview has been bound
// or has given up.
func (c *Controller) Start(ctx context.Context) (StartReport, error) {
	var report StartReport
	if err := c.transition(Idle, Starting); err != nil {
		return report, err
	}

	var acquired []opened
	for _, source := range c.opts.Sources {
		constraints := source.Constraints
		if constraints == (capture.Constraints{}) {
			constraints = capture.DefaultConstraints(source.Kind)
		}
		device, err := c.opts.Provider.Request(ctx, source.Kind, constraints)
		if err != nil {
			if source.Optional {
				c.notice(&report, Notice{Kind: source.Kind, Message: "recording without optional source", Err: err})
				continue
			}
			c.log.Error().Err(err).Str("kind", string(source.Kind)).Msg("failed to acquire capture source")
			releaseAll(acquired)
			c.setState(Idle)
			return report, err
		}
		acquired = append(acquired, opened{source: source, device: device})
	}

	var ready []opened
	for i, o := range acquired {
		encoder, err := c.opts.Encoders.Create(o.device, c.opts.MimeTypes)
		if err == nil {
			o.encoder = encoder
			err = encoder.Start(c.opts.Interval)
		}
		if err != nil {
			if o.source.Optional {
				o.release()
				c.notice(&report, Notice{Kind: o.source.Kind, Message: "recording without optional source", Err: err})
				continue
			}
			c.log.Error().Err(err).Str("kind", string(o.source.Kind)).Msg("failed to start encoder")
			o.release()
			releaseAll(ready)
			releaseAll(acquired[i+1:])
			c.setState(Idle)
			return report, fmt.Errorf("unable to encode %s: %w", o.source.Kind, err)
		}
		ready = append(ready, o)
	}
	if len(ready) == 0 {
		c.setState(Idle)
		return report, ErrNoSessions
	}

	sessions := make([]*Session, 0, len(ready))
	for _, o := range ready {
		session, err := c.newSession(o)
		if err != nil {
			c.log.Error().Err(err).Str("kind", string(o.source.Kind)).Msg("failed to prepare upload")
			releaseAll(ready)
			c.setState(Idle)
			return report, err
		}
		sessions = append(sessions, session)
	}

	uploadCtx, cancel := context.WithCancel(context.Background())
	for _, session := range sessions {
		c.opts.Metrics.SessionStarted()
		session.run(uploadCtx)
		session.notify(events.Event{Key: session.key, Kind: session.kind, Action: events.StartStreaming, Timestamp: c.clock.Now()})
		report.Sessions = append(report.Sessions, SessionInfo{Kind: session.kind, Key: session.key, MimeType: session.MimeType()})
		session.log.Info().Str("mime", session.MimeType()).Msg("streaming")
	}

	c.mu.Lock()
	c.sessions = sessions
	c.cancel = cancel
	c.mu.Unlock()

	// Stop is refused until every preview has settled, so an Unbind can't
	// be overtaken by a late Bind.
	if c.binder != nil {
		for _, session := range sessions {
			if err := c.binder.Bind(ctx, session.kind, session.device); err != nil {
				c.notice(&report, Notice{Kind: session.kind, Message: "preview unavailable", Err: err})
			}
		}
	}
	c.setState(Streaming)
	return report, nil
}

func (c *Controller) newSession(o opened) (*Session, error) {
	kind := o.source.Kind
	key := NewObjectKey(kind, o.encoder.MimeType(), c.clock.Now())
	log := c.log.With().Str("kind", string(kind)).Str("key", key).Logger()

	uploadOpts := c.opts.Upload
	uploadOpts.Metadata.ContentType = o.encoder.MimeType()
	uploadOpts.Logger = &log
	progress := uploadOpts.OnProgress
	collectors := c.opts.Metrics
	uploadOpts.OnProgress = func(p sink.Progress) {
		collectors.PartUploaded(kind)
		if progress != nil {
			progress(p)
		}
	}
	uploader, err := sink.NewUploader(c.opts.Destination, key, uploadOpts)
	if err != nil {
		return nil, err
	}
	return &Session{
		kind:     kind,
		key:      key,
		device:   o.device,
		encoder:  o.encoder,
		chunker:  pipeline.NewChunker(c.opts.ChunkSize, c.opts.Depth),
		uploader: uploader,
		notifier: c.opts.Notifier,
		metrics:  collectors,
		log:      log,
		clock:    c.clock,
		done:     make(chan struct{}),
	}, nil
}

// Stop ends every session and waits for their uploads. Uploads still
// running when the stop timeout expires, or when ctx ends, are cancelled
// and reported with ErrStopTimeout or ctx's error. The controller is Idle
// again when Stop returns; the error joins every failed session.
func (c *Controller) Stop(ctx context.Context) (StopReport, error) {
	var report StopReport
	if err := c.transition(Streaming, Stopping); err != nil {
		return report, err
	}
	c.mu.Lock()
	sessions := c.sessions
	cancel := c.cancel
	c.mu.Unlock()

	for _, session := range sessions {
		session.stop()
		if c.binder != nil {
			c.binder.Unbind(session.kind)
		}
	}

	allDone := make(chan struct{})
	go func() {
		defer close(allDone)
		for _, session := range sessions {
			<-session.Done()
		}
	}()

	var abandoned error
	timer := c.clock.Timer(c.opts.StopTimeout)
	select {
	case <-allDone:
		timer.Stop()
	case <-timer.C:
		abandoned = fmt.Errorf("%w after %s", ErrStopTimeout, c.opts.StopTimeout)
	case <-ctx.Done():
		timer.Stop()
		abandoned = ctx.Err()
	}
	if abandoned != nil {
		c.log.Error().Err(abandoned).Msg("cancelling outstanding uploads")
	}
	cancel()

	var failed *multierror.Error
	for _, session := range sessions {
		var result SessionResult
		select {
		case <-session.Done():
			result = session.Result()
		default:
			result = SessionResult{Kind: session.kind, Key: session.key, Err: abandoned}
		}
		if result.Err != nil {
			session.log.Error().Err(result.Err).Msg("session failed")
			failed = multierror.Append(failed, fmt.Errorf("%s %s: %w", session.kind, session.key, result.Err))
		}
		report.Results = append(report.Results, result)
	}

	c.mu.Lock()
	c.sessions = nil
	c.cancel = nil
	c.state = Idle
	c.mu.Unlock()
	return report, failed.ErrorOrNil()
}

// SetPictureInPicture floats or docks the preview of kind. It has no effect
// on recording.
func (c *Controller) SetPictureInPicture(kind capture.Kind, on bool) error {
	if c.binder == nil {
		return fmt.Errorf("no preview surface configured")
	}
	return c.binder.SetPictureInPicture(kind, on)
}
