package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	gcs "cloud.google.com/go/storage"
)

const defaultReadLimit = 1 << 20

// Reader loads small configuration objects from local disk or Cloud Storage.
type Reader struct {
	client *gcs.Client
	limit  int64
}

// ReaderOption customises a Reader.
type ReaderOption func(*Reader)

// WithReadLimit caps the number of bytes read from a single object.
func WithReadLimit(limit int64) ReaderOption {
	return func(r *Reader) {
		if limit > 0 {
			r.limit = limit
		}
	}
}

// NewReader constructs a Reader. client may be nil when only local paths are used.
func NewReader(client *gcs.Client, opts ...ReaderOption) *Reader {
	r := &Reader{client: client, limit: defaultReadLimit}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// ReadObject returns the full content at loc.
func (r *Reader) ReadObject(ctx context.Context, loc Location) ([]byte, error) {
	if r == nil {
		return nil, errors.New("storage reader: not initialised")
	}
	if !loc.IsGCS() {
		f, err := os.Open(loc.Path)
		if err != nil {
			return nil, fmt.Errorf("storage reader: open %s: %w", loc.Path, err)
		}
		defer f.Close()
		return r.readAll(f, loc)
	}

	if r.client == nil {
		return nil, fmt.Errorf("storage reader: cloud storage client required for %s", loc)
	}
	obj, err := r.client.Bucket(loc.Bucket).Object(loc.Object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage reader: open %s: %w", loc, err)
	}
	defer obj.Close()
	return r.readAll(obj, loc)
}

// Read parses raw and reads the object it names.
func (r *Reader) Read(ctx context.Context, raw string) ([]byte, error) {
	loc, err := ParseLocation(raw)
	if err != nil {
		return nil, err
	}
	return r.ReadObject(ctx, loc)
}

func (r *Reader) readAll(src io.Reader, loc Location) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(src, r.limit+1))
	if err != nil {
		return nil, fmt.Errorf("storage reader: read %s: %w", loc, err)
	}
	if int64(len(data)) > r.limit {
		return nil, fmt.Errorf("storage reader: %s exceeds %d bytes", loc, r.limit)
	}
	return data, nil
}
