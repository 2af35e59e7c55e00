// Package events publishes the lifecycle of capture sessions to the rest
// of the system. Notifier failures are reported to the caller, which logs
// them; they never affect recording or upload.
package events

import (
	"context"
	"time"

	"github.com/Niskarsh/livecapture/capture"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

type Action string

const (
	StartStreaming  Action = "start_streaming"
	StopStreaming   Action = "stop_streaming"
	UploadCompleted Action = "upload_completed"
	UploadFailed    Action = "upload_failed"
)

// Event is one step in the life of a session, identified by its object key.
type Event struct {
	Key       string       `json:"object_key"`
	Kind      capture.Kind `json:"kind"`
	Action    Action       `json:"action"`
	Bytes     int64        `json:"bytes,omitempty"`
	Parts     int          `json:"parts,omitempty"`
	Location  string       `json:"location,omitempty"`
	Error     string       `json:"error_message,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, event Event) error

func (f NotifierFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Nop discards every event.
var Nop Notifier = NotifierFunc(func(context.Context, Event) error { return nil })

type multi []Notifier

// Multi delivers each event to every notifier, even when some of them
// fail, and returns their errors together.
func Multi(notifiers ...Notifier) Notifier {
	var all multi
	for _, n := range notifiers {
		if n != nil {
			all = append(all, n)
		}
	}
	return all
}

func (m multi) Notify(ctx context.Context, event Event) error {
	var result *multierror.Error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// LogNotifier writes every event to a logger.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, event Event) error {
	var entry *zerolog.Event
	if event.Action == UploadFailed {
		entry = l.Logger.Error().Str("error", event.Error)
	} else {
		entry = l.Logger.Info()
	}
	entry = entry.Str("key", event.Key).Str("kind", string(event.Kind))
	if event.Bytes > 0 {
		entry = entry.Int64("bytes", event.Bytes).Int("parts", event.Parts)
	}
	if event.Location != "" {
		entry = entry.Str("location", event.Location)
	}
	entry.Msg(string(event.Action))
	return nil
}
