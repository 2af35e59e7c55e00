package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileProvider replays a recorded file for each kind of source.
type FileProvider struct {
	Paths map[Kind]string
}

// NewFileProvider creates a provider for the given screen and webcam
// recordings. An empty path leaves that kind unavailable.
func NewFileProvider(screen, webcam string) FileProvider {
	paths := make(map[Kind]string)
	if screen != "" {
		paths[Screen] = screen
	}
	if webcam != "" {
		paths[Webcam] = webcam
	}
	return FileProvider{Paths: paths}
}

// Request opens the recording for kind. The stream carries an audio track
// only when the constraints ask for one.
func (p FileProvider) Request(ctx context.Context, kind Kind, constraints Constraints) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AcquireError{Kind: kind, Err: err}
	}
	path, ok := p.Paths[kind]
	if !ok {
		return nil, &AcquireError{Kind: kind, Err: fmt.Errorf("%w: no recording configured", ErrNotFound)}
	}
	mimeType, ok := mimeTypeForExtension(filepath.Ext(path))
	if !ok {
		return nil, &AcquireError{Kind: kind, Err: fmt.Errorf("%w: unknown container for %s", ErrNotSupported, path)}
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, &AcquireError{Kind: kind, Err: classifyOpenError(err)}
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, &AcquireError{Kind: kind, Err: classifyOpenError(err)}
	}
	if info.IsDir() {
		file.Close()
		return nil, &AcquireError{Kind: kind, Err: fmt.Errorf("%w: %s is a directory", ErrNotFound, path)}
	}
	tracks := []Track{{ID: string(kind) + "-video", Kind: Video, Label: filepath.Base(path)}}
	if constraints.Audio {
		tracks = append(tracks, Track{ID: string(kind) + "-audio", Kind: Audio, Label: filepath.Base(path)})
	}
	return NewReaderDevice(kind, file, mimeType, tracks...), nil
}

func classifyOpenError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, err)
	}
	return err
}

var _ Provider = FileProvider{}
