package bridge

import (
	"context"

	"github.com/FLClab/TiffWrapper/internal/model"
)

// Reader is a per-session view of a Handle. It holds no state of its own:
// the runtime is shared by every reader, so Close releases nothing.
type Reader struct {
	handle *Handle
}

// NewReader returns a reader over h, or over the process-wide default
// handle when h is nil.
func NewReader(h *Handle) *Reader {
	return &Reader{handle: h}
}

func (r *Reader) resolve() (*Handle, error) {
	if r.handle != nil {
		return r.handle, nil
	}
	if h := Default(); h != nil {
		return h, nil
	}
	return nil, ErrNoDefault
}

// Read loads every series of the file at path.
func (r *Reader) Read(ctx context.Context, path string) (model.ImageBundle, error) {
	h, err := r.resolve()
	if err != nil {
		return nil, err
	}
	return h.Read(ctx, path)
}

// GetMetadata returns the metadata fields of every series of the file at path.
func (r *Reader) GetMetadata(ctx context.Context, path string) (model.MetadataBundle, error) {
	h, err := r.resolve()
	if err != nil {
		return nil, err
	}
	return h.GetMetadata(ctx, path)
}

// Close ends the session. The shared runtime keeps running.
func (r *Reader) Close() error {
	return nil
}

// WithReader runs fn with a reader over h and closes the reader on every
// exit path.
func WithReader(h *Handle, fn func(*Reader) error) (err error) {
	r := NewReader(h)
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(r)
}
