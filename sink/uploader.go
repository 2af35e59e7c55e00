package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Niskarsh/livecapture/pipeline"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

const (
	// MinPartSize is the smallest part S3 accepts other than the last.
	MinPartSize uint = 5 * mebibyte
	// DefaultWorkers is how many parts are transferred at once.
	DefaultWorkers uint = 8
	// DefaultMaxAttempts is how many times a part is tried before the
	// upload is failed.
	DefaultMaxAttempts uint = 5
	// DefaultRetryWait is the base wait before a part is retried.
	DefaultRetryWait = time.Second

	abortTimeout = 30 * time.Second
)

// CleanupPolicy decides what happens to stored parts when an upload fails.
type CleanupPolicy int

const (
	// CleanupDelete aborts the multipart upload, removing its parts.
	CleanupDelete CleanupPolicy = iota
	// CleanupLeave keeps the parts for out-of-band inspection.
	CleanupLeave
)

func (p CleanupPolicy) String() string {
	if p == CleanupLeave {
		return "leave"
	}
	return "delete"
}

// Options configures an Uploader. Zero values select the defaults.
type Options struct {
	PartSize    uint
	Workers     uint
	MaxAttempts uint
	// RetryWait is the base wait before a retry. A negative RetryWait
	// retries without waiting.
	RetryWait  time.Duration
	Cleanup    CleanupPolicy
	Metadata   Metadata
	Clock      clock.Clock
	Logger     *zerolog.Logger
	OnProgress func(Progress)
}

// Result is the terminal outcome of an upload.
type Result struct {
	Key      string
	Location string
	UploadID string
	Bytes    int64
	Parts    int
	Empty    bool
	Err      error
}

// Uploader streams chunks into a single object at a Destination.
type Uploader struct {
	dest   Destination
	key    string
	opts   Options
	clock  clock.Clock
	log    zerolog.Logger
	status *Status

	startOnce sync.Once
	done      chan struct{}
	result    Result

	mu       sync.Mutex
	upload   Upload
	beginErr error
}

// NewUploader validates opts and prepares an upload of key to dest. Nothing
// is sent to dest until Start is called.
func NewUploader(dest Destination, key string, opts Options) (*Uploader, error) {
	if dest == nil {
		return nil, fmt.Errorf("unable to upload to a nil destination")
	}
	if key == "" {
		return nil, ErrEmptyKey
	}
	if opts.PartSize == 0 {
		opts.PartSize = max(MinPartSize, dest.MinPartSize())
	}
	if opts.PartSize < dest.MinPartSize() {
		return nil, fmt.Errorf("part size %d is below the destination minimum of %d bytes", opts.PartSize, dest.MinPartSize())
	}
	if opts.Workers == 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryWait == 0 {
		opts.RetryWait = DefaultRetryWait
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Uploader{
		dest:   dest,
		key:    key,
		opts:   opts,
		clock:  opts.Clock,
		log:    logger.With().Str("key", key).Logger(),
		status: newStatus(opts.Clock),
		done:   make(chan struct{}),
	}, nil
}

// Key is the name of the object being created.
func (u *Uploader) Key() string {
	return u.key
}

// Status exposes the progress of the upload.
func (u *Uploader) Status() *Status {
	return u.status
}

// Start begins consuming chunks. The upload finishes once chunks is closed
// and every part has been settled. Cancelling ctx fails the upload. Calls
// after the first are ignored.
func (u *Uploader) Start(ctx context.Context, chunks <-chan pipeline.Chunk) {
	u.startOnce.Do(func() {
		u.status.start()
		go u.run(ctx, chunks)
	})
}

// Done is closed once the Result is available.
func (u *Uploader) Done() <-chan struct{} {
	return u.done
}

// Result returns the outcome of the upload. It is only meaningful once Done
// is closed.
func (u *Uploader) Result() Result {
	<-u.done
	return u.result
}

// Wait blocks until the upload finishes or ctx is done. It returns the
// Result and its error, or ctx's error if ctx ended first.
func (u *Uploader) Wait(ctx context.Context) (Result, error) {
	select {
	case <-u.done:
		return u.result, u.result.Err
	case <-ctx.Done():
		return Result{Key: u.key}, ctx.Err()
	}
}

func (u *Uploader) run(ctx context.Context, chunks <-chan pipeline.Chunk) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		firstErr error
		errs     = make(chan error)
		errsDone = make(chan struct{})
	)
	go func() {
		defer close(errsDone)
		for err := range errs {
			u.log.Error().Err(err).Msg("upload error")
			if firstErr == nil {
				firstErr = err
				cancel()
			}
		}
	}()

	parts := pipeline.Coalesce(chunks, u.opts.PartSize)
	streams := pipeline.Divide(parts, u.opts.Workers)
	stored := make([]<-chan pipeline.Chunk, len(streams))
	for i, stream := range streams {
		stored[i] = pipeline.Map(stream, errs, func(part pipeline.Chunk) (pipeline.Chunk, error) {
			return u.storePart(ctx, part)
		})
	}
	var completed []Part
	for part := range pipeline.Join(stored...) {
		completed = append(completed, Part{Number: int(part.Number) + 1, ETag: part.Hash, Size: int64(part.Size)})
		loaded, count := u.status.partComplete(int64(part.Size))
		if u.opts.OnProgress != nil {
			u.opts.OnProgress(Progress{Key: u.key, Loaded: loaded, Total: -1, Parts: count})
		}
	}
	close(errs)
	<-errsDone

	u.result = u.finish(ctx, completed, firstErr)
	u.status.stop()
	close(u.done)
}

// multipart returns the upload for this object, beginning it on first use.
func (u *Uploader) multipart(ctx context.Context) (Upload, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.upload == nil && u.beginErr == nil {
		u.upload, u.beginErr = u.dest.Begin(ctx, u.key, u.opts.Metadata)
		if u.beginErr != nil {
			u.beginErr = fmt.Errorf("failed to begin upload of %s: %w", u.key, u.beginErr)
		} else {
			u.log.Debug().Str("upload_id", u.upload.ID()).Msg("multipart upload started")
		}
	}
	return u.upload, u.beginErr
}

// storePart sends one part to the destination, retrying on an exponential
// backoff. Once the upload has failed, remaining parts are discarded.
func (u *Uploader) storePart(ctx context.Context, part pipeline.Chunk) (pipeline.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return part, err
	}
	upload, err := u.multipart(ctx)
	if err != nil {
		return part, err
	}
	number := int(part.Number) + 1
	var attempt uint
	for attempt = 1; ; attempt++ {
		stored, err := upload.PutPart(ctx, number, part.Data)
		if err == nil {
			part.Hash = stored.ETag
			part.Data = nil
			return part, nil
		}
		if attempt >= u.opts.MaxAttempts || ctx.Err() != nil {
			return part, &PartError{Number: number, Attempts: attempt, Err: err}
		}
		u.log.Warn().Err(err).Int("part", number).Uint("attempt", attempt).Msg("retrying part")
		if u.opts.RetryWait > 0 {
			select {
			case <-u.clock.After(u.opts.RetryWait * (1 << (attempt - 1))):
			case <-ctx.Done():
				return part, &PartError{Number: number, Attempts: attempt, Err: ctx.Err()}
			}
		}
	}
}

// finish completes or cleans up the upload once every part has settled.
func (u *Uploader) finish(ctx context.Context, parts []Part, err error) Result {
	result := Result{Key: u.key, Parts: len(parts)}
	for _, part := range parts {
		result.Bytes += part.Size
	}
	u.mu.Lock()
	upload := u.upload
	u.mu.Unlock()
	if upload != nil {
		result.UploadID = upload.ID()
	}

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		result.Err = err
		u.cleanup(upload)
		return result
	}

	if upload == nil {
		location, err := u.dest.PutEmpty(ctx, u.key, u.opts.Metadata)
		if err != nil {
			result.Err = fmt.Errorf("failed to store empty object %s: %w", u.key, err)
			return result
		}
		result.Location = location
		result.Empty = true
		u.log.Info().Msg("stored empty object")
		return result
	}

	sort.Slice(parts, func(i, j int) bool {
		return parts[i].Number < parts[j].Number
	})
	location, err := upload.Complete(ctx, parts)
	if err != nil {
		result.Err = fmt.Errorf("failed to complete upload of %s: %w", u.key, err)
		u.cleanup(upload)
		return result
	}
	result.Location = location
	u.log.Info().Int64("bytes", result.Bytes).Int("parts", result.Parts).Msg("upload complete")
	return result
}

// cleanup applies the cleanup policy to a failed upload.
func (u *Uploader) cleanup(upload Upload) {
	if upload == nil {
		return
	}
	if u.opts.Cleanup == CleanupLeave {
		u.log.Warn().Str("upload_id", upload.ID()).Msg("upload failed, parts left for manual cleanup")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	if err := upload.Abort(ctx); err != nil {
		u.log.Error().Err(err).Str("upload_id", upload.ID()).Msg("failed to abort upload")
		return
	}
	u.log.Info().Str("upload_id", upload.ID()).Msg("aborted failed upload")
}
