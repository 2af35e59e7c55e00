package mock

import (
	"context"
	"fmt"

	"github.com/Niskarsh/livecapture/sink"
)

// ErrorDestination implements the Destination interface but always returns
// an error.
type ErrorDestination struct{}

// NewErrorDestination creates a destination that always errors out.
func NewErrorDestination() ErrorDestination {
	return ErrorDestination{}
}

func (e ErrorDestination) MinPartSize() uint {
	return 1
}

// Begin always returns an error.
func (e ErrorDestination) Begin(ctx context.Context, key string, meta sink.Metadata) (sink.Upload, error) {
	return nil, fmt.Errorf("error destination refused upload of %s", key)
}

// PutEmpty always returns an error.
func (e ErrorDestination) PutEmpty(ctx context.Context, key string, meta sink.Metadata) (string, error) {
	return "", fmt.Errorf("error destination refused object %s", key)
}

// Ensure that ErrorDestination implements the Destination interface at compile-time
var _ sink.Destination = ErrorDestination{}
