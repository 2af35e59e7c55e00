package mock

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/Niskarsh/livecapture/sink"
)

// BufferDestination implements the Destination interface and keeps the
// observed objects, parts and aborted uploads in memory for later retrieval
// and testing. It is safe for concurrent use.
type BufferDestination struct {
	mu          sync.Mutex
	minPartSize uint
	nextID      int
	objects     map[string][]byte
	metadata    map[string]sink.Metadata
	uploads     map[string]*bufferUpload
	aborted     []string
	failures    map[int]int
	calls       map[int]int
	hold        chan struct{}
}

// NewBufferDestination creates a new instance of BufferDestination that
// accepts parts of any size.
func NewBufferDestination() *BufferDestination {
	return &BufferDestination{
		minPartSize: 1,
		objects:     make(map[string][]byte),
		metadata:    make(map[string]sink.Metadata),
		uploads:     make(map[string]*bufferUpload),
		failures:    make(map[int]int),
		calls:       make(map[int]int),
	}
}

// SetMinPartSize changes the part size the destination reports as its minimum.
func (b *BufferDestination) SetMinPartSize(size uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.minPartSize = size
}

// FailPart makes the next times attempts to store part number fail. A
// negative times fails every attempt.
func (b *BufferDestination) FailPart(number, times int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[number] = times
}

// Hold makes every PutPart wait until Release is called or its context ends.
func (b *BufferDestination) Hold() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hold == nil {
		b.hold = make(chan struct{})
	}
}

// Release lets held and future PutPart calls proceed.
func (b *BufferDestination) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hold != nil {
		close(b.hold)
		b.hold = nil
	}
}

// Object returns the completed object stored at key.
func (b *BufferDestination) Object(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	return data, ok
}

// Metadata returns the metadata the object at key was stored with.
func (b *BufferDestination) Metadata(key string) sink.Metadata {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metadata[key]
}

// Keys lists the completed objects in lexical order.
func (b *BufferDestination) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Aborted lists the ids of aborted uploads.
func (b *BufferDestination) Aborted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.aborted...)
}

// Pending lists the ids of uploads that were neither completed nor aborted.
func (b *BufferDestination) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.uploads))
	for id := range b.uploads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Attempts reports how many times part number was sent, across uploads.
func (b *BufferDestination) Attempts(number int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[number]
}

func (b *BufferDestination) MinPartSize() uint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.minPartSize
}

// Begin opens an in-memory multipart upload.
func (b *BufferDestination) Begin(ctx context.Context, key string, meta sink.Metadata) (sink.Upload, error) {
	if key == "" {
		return nil, sink.ErrEmptyKey
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	upload := &bufferUpload{
		dest:  b,
		key:   key,
		id:    fmt.Sprintf("upload-%d", b.nextID),
		meta:  meta,
		parts: make(map[int][]byte),
	}
	b.uploads[upload.id] = upload
	return upload, nil
}

// PutEmpty stores a zero-length object.
func (b *BufferDestination) PutEmpty(ctx context.Context, key string, meta sink.Metadata) (string, error) {
	if key == "" {
		return "", sink.ErrEmptyKey
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = []byte{}
	b.metadata[key] = meta
	return "mem://" + key, nil
}

// bufferUpload gathers parts until Complete joins them.
type bufferUpload struct {
	dest  *BufferDestination
	key   string
	id    string
	meta  sink.Metadata
	parts map[int][]byte
}

func (u *bufferUpload) ID() string {
	return u.id
}

func (u *bufferUpload) PutPart(ctx context.Context, number int, data []byte) (sink.Part, error) {
	u.dest.mu.Lock()
	hold := u.dest.hold
	u.dest.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return sink.Part{}, ctx.Err()
		}
	}

	u.dest.mu.Lock()
	defer u.dest.mu.Unlock()
	u.dest.calls[number]++
	if remaining, ok := u.dest.failures[number]; ok && remaining != 0 {
		if remaining > 0 {
			u.dest.failures[number] = remaining - 1
		}
		return sink.Part{}, fmt.Errorf("injected failure for part %d", number)
	}
	u.parts[number] = bytes.Clone(data)
	sum := md5.Sum(data)
	return sink.Part{Number: number, ETag: hex.EncodeToString(sum[:]), Size: int64(len(data))}, nil
}

// Complete joins the listed parts in the order given.
func (u *bufferUpload) Complete(ctx context.Context, parts []sink.Part) (string, error) {
	if len(parts) == 0 {
		return "", sink.ErrNoParts
	}
	u.dest.mu.Lock()
	defer u.dest.mu.Unlock()
	var object []byte
	for _, part := range parts {
		data, ok := u.parts[part.Number]
		if !ok {
			return "", fmt.Errorf("part %d of upload %s was never stored", part.Number, u.id)
		}
		object = append(object, data...)
	}
	u.dest.objects[u.key] = object
	u.dest.metadata[u.key] = u.meta
	delete(u.dest.uploads, u.id)
	return "mem://" + u.key, nil
}

func (u *bufferUpload) Abort(ctx context.Context) error {
	u.dest.mu.Lock()
	defer u.dest.mu.Unlock()
	delete(u.dest.uploads, u.id)
	u.dest.aborted = append(u.dest.aborted, u.id)
	return nil
}

var _ sink.Destination = &BufferDestination{}
