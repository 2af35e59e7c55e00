/*
Package capture acquires live media sources and encodes them into a stream
of byte buffers.

A Provider hands out a Device for a Kind of source. An EncoderFactory wraps
a Device in an Encoder, which emits one buffer of encoded media on its Data
channel per interval once started and closes Stopped exactly once after
Stop is called or the input ends. Data is always closed before Stopped.

Sources here are recorded files (FileProvider) or ffmpeg subprocesses
(FFmpegProvider), both encoded by a ReaderEncoder.
*/
package capture

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"
)

// Kind names a type of capture source.
type Kind string

const (
	Screen Kind = "screen"
	Webcam Kind = "webcam"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNotFound          = errors.New("device not found")
	ErrNotSupported      = errors.New("not supported")
	ErrUnsupportedFormat = errors.New("no supported encoding format")
)

// AcquireError is returned by a Provider that could not open a device.
type AcquireError struct {
	Kind Kind
	Err  error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("unable to acquire %s: %s", e.Kind, e.Err)
}

func (e *AcquireError) Unwrap() error {
	return e.Err
}

// Constraints narrow the device a Provider should return. Zero values
// leave the choice to the provider.
type Constraints struct {
	Width  int
	Height int
	Audio  bool
}

// DefaultConstraints are the constraints requested for each kind when the
// caller doesn't supply any. A screen recording carries microphone audio.
func DefaultConstraints(kind Kind) Constraints {
	if kind == Webcam {
		return Constraints{Width: 1280, Height: 720}
	}
	return Constraints{Audio: true}
}

// TrackKind is the media type of a Track.
type TrackKind string

const (
	Audio TrackKind = "audio"
	Video TrackKind = "video"
)

type Track struct {
	ID    string
	Kind  TrackKind
	Label string
}

// Device is an acquired capture source. Stop releases it and is safe to
// call more than once.
type Device interface {
	Kind() Kind
	Tracks() []Track
	Stop()
}

// Provider acquires devices. Errors are *AcquireError wrapping one of
// ErrPermissionDenied, ErrNotFound or ErrNotSupported.
type Provider interface {
	Request(ctx context.Context, kind Kind, constraints Constraints) (Device, error)
}

// Encoder turns a Device into a sequence of encoded buffers.
type Encoder interface {
	MimeType() string
	Start(interval time.Duration) error
	Data() <-chan []byte
	Stopped() <-chan struct{}
	Stop()
	// Err is non-nil when the input ended because of a read failure.
	Err() error
}

// EncoderFactory creates an Encoder for the first of mimeTypes the device
// can produce, or fails with ErrUnsupportedFormat.
type EncoderFactory interface {
	Create(device Device, mimeTypes []string) (Encoder, error)
}

// DefaultMimeTypes is the encoding preference used when none is given.
var DefaultMimeTypes = []string{
	"video/webm;codecs=vp9",
	"video/webm;codecs=vp8",
	"video/webm",
}

// MatchMimeType reports whether want and have name the same media type.
// Codecs are only compared when both carry them.
func MatchMimeType(want, have string) bool {
	wantType, wantParams, err := mime.ParseMediaType(want)
	if err != nil {
		return false
	}
	haveType, haveParams, err := mime.ParseMediaType(have)
	if err != nil {
		return false
	}
	if wantType != haveType {
		return false
	}
	wantCodecs, haveCodecs := wantParams["codecs"], haveParams["codecs"]
	return wantCodecs == "" || haveCodecs == "" || strings.EqualFold(wantCodecs, haveCodecs)
}

// SelectMimeType picks the first preference any supported type matches and
// returns the supported type, which is what the encoder will actually emit.
func SelectMimeType(preferences, supported []string) (string, error) {
	if len(preferences) == 0 {
		preferences = DefaultMimeTypes
	}
	for _, want := range preferences {
		for _, have := range supported {
			if MatchMimeType(want, have) {
				return have, nil
			}
		}
	}
	return "", fmt.Errorf("%w: none of %v in %v", ErrUnsupportedFormat, preferences, supported)
}

// Extension is the file extension for objects of the given mime type.
func Extension(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return "webm"
	}
	switch mediaType {
	case "video/mp4", "audio/mp4":
		return "mp4"
	case "video/x-matroska":
		return "mkv"
	}
	return "webm"
}

// mimeTypeForExtension maps the extension of a recorded file to its type.
func mimeTypeForExtension(ext string) (string, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "webm":
		return "video/webm", true
	case "mkv":
		return "video/x-matroska", true
	case "mp4":
		return "video/mp4", true
	}
	return "", false
}
