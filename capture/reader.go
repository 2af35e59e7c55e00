package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/juju/ratelimit"
	"github.com/rs/zerolog"
)

const (
	defaultReadSize = 32 * 1024
	defaultDepth    = 16
)

// StreamDevice is a Device whose encoded media can be read directly.
type StreamDevice interface {
	Device
	MimeType() string
	Stream() io.Reader
}

// readerDevice presents an io.Reader as a device.
type readerDevice struct {
	kind     Kind
	mimeType string
	tracks   []Track
	r        io.Reader
	stopOnce sync.Once
}

// NewReaderDevice wraps r, which holds media of type mimeType, as a device
// of the given kind. If r is an io.Closer, Stop closes it.
func NewReaderDevice(kind Kind, r io.Reader, mimeType string, tracks ...Track) StreamDevice {
	if len(tracks) == 0 {
		tracks = []Track{{ID: string(kind) + "-video", Kind: Video, Label: string(kind)}}
	}
	return &readerDevice{kind: kind, mimeType: mimeType, tracks: tracks, r: r}
}

func (d *readerDevice) Kind() Kind {
	return d.kind
}

func (d *readerDevice) Tracks() []Track {
	return append([]Track(nil), d.tracks...)
}

func (d *readerDevice) MimeType() string {
	return d.mimeType
}

func (d *readerDevice) Stream() io.Reader {
	return d.r
}

func (d *readerDevice) Stop() {
	d.stopOnce.Do(func() {
		if closer, ok := d.r.(io.Closer); ok {
			closer.Close()
		}
	})
}

// ReaderEncoderOptions tunes the encoders made by a ReaderEncoderFactory.
type ReaderEncoderOptions struct {
	// BytesPerSecond paces reads from the device. Zero reads as fast as
	// the device allows.
	BytesPerSecond int64
	ReadSize       int
	// Depth is the capacity of the Data channel.
	Depth  int
	Clock  clock.Clock
	Logger *zerolog.Logger
}

// ReaderEncoderFactory creates ReaderEncoders for StreamDevices.
type ReaderEncoderFactory struct {
	Options ReaderEncoderOptions
}

// Create fails with ErrNotSupported for devices that aren't StreamDevices.
func (f ReaderEncoderFactory) Create(device Device, mimeTypes []string) (Encoder, error) {
	stream, ok := device.(StreamDevice)
	if !ok {
		return nil, fmt.Errorf("%w: %s device has no readable stream", ErrNotSupported, device.Kind())
	}
	mimeType, err := SelectMimeType(mimeTypes, []string{stream.MimeType()})
	if err != nil {
		return nil, err
	}
	return NewReaderEncoder(stream.Stream(), mimeType, f.Options), nil
}

// ReaderEncoder reads already encoded media and emits whatever has
// accumulated once per interval. Pending data is flushed on Stop and at
// the end of input.
type ReaderEncoder struct {
	r        io.Reader
	mimeType string
	clock    clock.Clock
	bucket   *ratelimit.Bucket
	readSize int
	log      zerolog.Logger

	data     chan []byte
	stopped  chan struct{}
	stopping chan struct{}
	readDone chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	mu      sync.Mutex
	pending []byte
	err     error
}

// NewReaderEncoder creates an encoder over r. Nothing is read until Start.
func NewReaderEncoder(r io.Reader, mimeType string, opts ReaderEncoderOptions) *ReaderEncoder {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = defaultReadSize
	}
	if opts.Depth <= 0 {
		opts.Depth = defaultDepth
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	e := &ReaderEncoder{
		r:        r,
		mimeType: mimeType,
		clock:    opts.Clock,
		readSize: opts.ReadSize,
		log:      logger.With().Str("mime", mimeType).Logger(),
		data:     make(chan []byte, opts.Depth),
		stopped:  make(chan struct{}),
		stopping: make(chan struct{}),
		readDone: make(chan struct{}),
	}
	if opts.BytesPerSecond > 0 {
		e.bucket = ratelimit.NewBucketWithRateAndClock(float64(opts.BytesPerSecond), opts.BytesPerSecond, opts.Clock)
	}
	return e
}

func (e *ReaderEncoder) MimeType() string {
	return e.mimeType
}

func (e *ReaderEncoder) Data() <-chan []byte {
	return e.data
}

func (e *ReaderEncoder) Stopped() <-chan struct{} {
	return e.stopped
}

func (e *ReaderEncoder) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Start begins reading and emitting a buffer every interval. An encoder can
// only be started once, and not after Stop.
func (e *ReaderEncoder) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("encoder interval must be positive, got %s", interval)
	}
	started := false
	e.startOnce.Do(func() {
		started = true
		go e.read()
		go e.emit(interval)
	})
	if !started {
		return fmt.Errorf("encoder already started or stopped")
	}
	return nil
}

// Stop ends the recording. The last pending data is emitted before Data
// and then Stopped are closed.
func (e *ReaderEncoder) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopping)
	})
	e.startOnce.Do(func() {
		close(e.data)
		close(e.stopped)
	})
}

func (e *ReaderEncoder) read() {
	defer close(e.readDone)
	buf := make([]byte, e.readSize)
	for {
		select {
		case <-e.stopping:
			return
		default:
		}
		n, err := e.r.Read(buf)
		if n > 0 {
			if e.bucket != nil {
				e.bucket.Wait(int64(n))
			}
			e.mu.Lock()
			e.pending = append(e.pending, buf[:n]...)
			e.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case <-e.stopping:
				default:
					e.mu.Lock()
					e.err = err
					e.mu.Unlock()
					e.log.Error().Err(err).Msg("capture input failed")
				}
			}
			return
		}
	}
}

func (e *ReaderEncoder) emit(interval time.Duration) {
	ticker := e.clock.Ticker(interval)
	defer ticker.Stop()
	defer close(e.stopped)
	defer close(e.data)
	for {
		select {
		case <-ticker.C:
			e.flush()
		case <-e.readDone:
			e.flush()
			return
		case <-e.stopping:
			e.flush()
			return
		}
	}
}

func (e *ReaderEncoder) flush() {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	if len(pending) > 0 {
		e.data <- pending
	}
}

var _ Encoder = &ReaderEncoder{}
