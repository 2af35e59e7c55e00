/*
Package preview shows live capture devices to the user.

A Surface only displays devices. Binding, unbinding and picture-in-picture
never touch the data flowing from a device to storage, so every error here
is cosmetic. A Binder retries a failed Bind a few times before giving up.
*/
package preview

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Niskarsh/livecapture/capture"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

const (
	DefaultAttempts = 3
	DefaultWait     = time.Second
)

// Surface displays capture devices.
type Surface interface {
	Bind(kind capture.Kind, device capture.Device) error
	Unbind(kind capture.Kind)
	SetPictureInPicture(kind capture.Kind, on bool) error
}

// BindError reports a preview that could not be shown.
type BindError struct {
	Kind     capture.Kind
	Attempts int
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("unable to preview %s after %d attempts: %s", e.Kind, e.Attempts, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Binder retries Bind on a Surface, waiting between attempts.
type Binder struct {
	surface  Surface
	attempts int
	wait     time.Duration
	clock    clock.Clock
	log      zerolog.Logger
}

// NewBinder wraps surface. Zero attempts or wait select the defaults, and a
// nil clock uses the wall clock.
func NewBinder(surface Surface, attempts int, wait time.Duration, c clock.Clock, logger zerolog.Logger) *Binder {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if wait <= 0 {
		wait = DefaultWait
	}
	if c == nil {
		c = clock.New()
	}
	return &Binder{surface: surface, attempts: attempts, wait: wait, clock: c, log: logger}
}

// Bind shows device, trying up to the configured number of times. It
// returns a *BindError once every attempt has failed, or ctx's error.
func (b *Binder) Bind(ctx context.Context, kind capture.Kind, device capture.Device) error {
	var err error
	for attempt := 1; attempt <= b.attempts; attempt++ {
		if err = b.surface.Bind(kind, device); err == nil {
			return nil
		}
		b.log.Warn().Err(err).Str("kind", string(kind)).Int("attempt", attempt).Msg("preview failed")
		if attempt == b.attempts {
			break
		}
		select {
		case <-b.clock.After(b.wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return &BindError{Kind: kind, Attempts: b.attempts, Err: err}
}

func (b *Binder) Unbind(kind capture.Kind) {
	b.surface.Unbind(kind)
}

func (b *Binder) SetPictureInPicture(kind capture.Kind, on bool) error {
	return b.surface.SetPictureInPicture(kind, on)
}

// LogSurface is a Surface for terminals. It logs what would be shown.
type LogSurface struct {
	log zerolog.Logger

	mu  sync.Mutex
	pip map[capture.Kind]bool
	on  map[capture.Kind]capture.Device
}

func NewLogSurface(logger zerolog.Logger) *LogSurface {
	return &LogSurface{
		log: logger,
		pip: make(map[capture.Kind]bool),
		on:  make(map[capture.Kind]capture.Device),
	}
}

func (s *LogSurface) Bind(kind capture.Kind, device capture.Device) error {
	if device == nil {
		return fmt.Errorf("no %s device to preview", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on[kind] = device
	event := s.log.Info().Str("kind", string(kind))
	for _, track := range device.Tracks() {
		event = event.Str(string(track.Kind), track.Label)
	}
	event.Msg("preview bound")
	return nil
}

func (s *LogSurface) Unbind(kind capture.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.on[kind]; !ok {
		return
	}
	delete(s.on, kind)
	delete(s.pip, kind)
	s.log.Info().Str("kind", string(kind)).Msg("preview unbound")
}

// SetPictureInPicture fails for a kind that isn't bound.
func (s *LogSurface) SetPictureInPicture(kind capture.Kind, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.on[kind]; !ok {
		return fmt.Errorf("no %s preview to float", kind)
	}
	s.pip[kind] = on
	s.log.Info().Str("kind", string(kind)).Bool("pip", on).Msg("picture-in-picture")
	return nil
}

// Bound reports whether kind is currently shown.
func (s *LogSurface) Bound(kind capture.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.on[kind]
	return ok
}

// PictureInPicture reports whether kind is floating.
func (s *LogSurface) PictureInPicture(kind capture.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pip[kind]
}

var _ Surface = &LogSurface{}
