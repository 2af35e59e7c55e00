package capture

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// FFmpegProvider captures live sources by running ffmpeg and reading the
// webm it writes to stdout. Inputs holds the input arguments for each kind,
// for example "-f x11grab -i :0.0" for a screen or "-f v4l2 -i /dev/video0"
// for a webcam.
type FFmpegProvider struct {
	Binary string
	Inputs map[Kind][]string
	Logger *zerolog.Logger
}

// outputArgs encodes to webm on stdout, scaled and with or without audio
// as the constraints ask.
func outputArgs(constraints Constraints) []string {
	var args []string
	if constraints.Width > 0 && constraints.Height > 0 {
		args = append(args, "-vf", "scale="+strconv.Itoa(constraints.Width)+":"+strconv.Itoa(constraints.Height))
	}
	if !constraints.Audio {
		args = append(args, "-an")
	}
	return append(args, "-c:v", "libvpx-vp9", "-deadline", "realtime", "-f", "webm", "pipe:1")
}

// Request starts ffmpeg for kind. A missing ffmpeg binary fails with
// ErrNotSupported.
func (p FFmpegProvider) Request(ctx context.Context, kind Kind, constraints Constraints) (Device, error) {
	binary := p.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	inputs, ok := p.Inputs[kind]
	if !ok || len(inputs) == 0 {
		return nil, &AcquireError{Kind: kind, Err: fmt.Errorf("%w: no ffmpeg input configured", ErrNotFound)}
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, &AcquireError{Kind: kind, Err: fmt.Errorf("%w: %s", ErrNotSupported, err)}
	}
	if err := ctx.Err(); err != nil {
		return nil, &AcquireError{Kind: kind, Err: err}
	}
	args := append([]string{"-hide_banner", "-loglevel", "error"}, inputs...)
	args = append(args, outputArgs(constraints)...)
	cmd := exec.Command(path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &AcquireError{Kind: kind, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &AcquireError{Kind: kind, Err: err}
	}
	logger := zerolog.Nop()
	if p.Logger != nil {
		logger = *p.Logger
	}
	logger.Debug().Str("kind", string(kind)).Int("pid", cmd.Process.Pid).Msg("ffmpeg started")
	tracks := []Track{{ID: string(kind) + "-video", Kind: Video, Label: "ffmpeg"}}
	if constraints.Audio {
		tracks = append(tracks, Track{ID: string(kind) + "-audio", Kind: Audio, Label: "ffmpeg"})
	}
	return &processDevice{
		StreamDevice: NewReaderDevice(kind, stdout, "video/webm", tracks...),
		cmd:          cmd,
		log:          logger,
	}, nil
}

// processDevice is a stream whose Stop ends the process producing it.
type processDevice struct {
	StreamDevice
	cmd      *exec.Cmd
	log      zerolog.Logger
	stopOnce sync.Once
}

func (d *processDevice) Stop() {
	d.stopOnce.Do(func() {
		if err := d.cmd.Process.Kill(); err != nil {
			d.log.Warn().Err(err).Msg("failed to kill ffmpeg")
		}
		// Wait closes stdout once the process has exited.
		if err := d.cmd.Wait(); err != nil {
			d.log.Debug().Err(err).Msg("ffmpeg exited")
		}
	})
}

var (
	_ Provider     = FFmpegProvider{}
	_ StreamDevice = &processDevice{}
)
