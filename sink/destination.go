package sink

import (
	"context"
	"errors"
	"fmt"
)

const mebibyte = 1024 * 1024

var (
	// ErrEmptyKey is returned when an upload is requested without an object key.
	ErrEmptyKey = errors.New("object key cannot be the empty string")
	// ErrNoParts is returned by Complete when there is nothing to assemble.
	ErrNoParts = errors.New("no parts to complete")
)

// Metadata describes the object being created.
type Metadata struct {
	ContentType string
	Tags        map[string]string
}

// Part is a stored region of an object. Numbers start at 1.
type Part struct {
	Number int
	ETag   string
	Size   int64
}

// PartError records a part that could not be stored after every attempt.
type PartError struct {
	Number   int
	Attempts uint
	Err      error
}

func (e *PartError) Error() string {
	return fmt.Sprintf("part %d failed after %d attempts: %s", e.Number, e.Attempts, e.Err)
}

func (e *PartError) Unwrap() error {
	return e.Err
}

// Destination defines a valid upload destination for a capture session.
type Destination interface {
	// MinPartSize is the smallest part, other than the last, that the
	// destination accepts.
	MinPartSize() uint
	// Begin starts a multipart upload for key.
	Begin(ctx context.Context, key string, meta Metadata) (Upload, error)
	// PutEmpty stores a zero-length object at key and returns its location.
	PutEmpty(ctx context.Context, key string, meta Metadata) (string, error)
}

// Upload is a multipart upload in progress. PutPart is safe for concurrent
// use; Complete and Abort are each called at most once, after every PutPart
// has returned.
type Upload interface {
	ID() string
	PutPart(ctx context.Context, number int, data []byte) (Part, error)
	// Complete assembles parts, which arrive sorted by Number, into the
	// final object and returns its location.
	Complete(ctx context.Context, parts []Part) (string, error)
	// Abort removes whatever parts have been stored.
	Abort(ctx context.Context) error
}
