package mock

import (
	"context"

	"github.com/Niskarsh/livecapture/sink"
)

// NullDestination implements the Destination interface but discards
// everything sent to it.
type NullDestination struct{}

func NewNullDestination() NullDestination {
	return NullDestination{}
}

type nullUpload struct{}

func (n NullDestination) MinPartSize() uint {
	return 1
}

// Begin always returns an upload that does nothing.
func (n NullDestination) Begin(ctx context.Context, key string, meta sink.Metadata) (sink.Upload, error) {
	return nullUpload{}, nil
}

// PutEmpty returns the key and nil.
func (n NullDestination) PutEmpty(ctx context.Context, key string, meta sink.Metadata) (string, error) {
	return key, nil
}

func (n nullUpload) ID() string {
	return "null"
}

func (n nullUpload) PutPart(ctx context.Context, number int, data []byte) (sink.Part, error) {
	return sink.Part{Number: number, Size: int64(len(data))}, nil
}

func (n nullUpload) Complete(ctx context.Context, parts []sink.Part) (string, error) {
	return "", nil
}

func (n nullUpload) Abort(ctx context.Context) error {
	return nil
}

// Check that NullDestination fulfills the destination interface at compile-time
var _ sink.Destination = NullDestination{}
