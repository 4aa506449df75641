// Package backendtest provides an in-memory Backend for tests of the bridge,
// the protocol agent and the HTTP surface.
package backendtest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FLClab/TiffWrapper/internal/backend"
	"github.com/FLClab/TiffWrapper/internal/model"
)

// ErrNotFound is returned by Open for paths that were never added.
var ErrNotFound = errors.New("file not found")

// File is one fake measurement file.
type File struct {
	Series []model.Series
	Image  []model.Fields
	Pixels []model.Fields

	// PlaneErr, when set, is returned by every ReadPlane call on this file.
	PlaneErr error
}

// Fake is an in-memory Backend. Its exported fields must be set before the
// bridge starts it.
type Fake struct {
	InitErr     error
	ShutdownErr error

	// Delay is slept inside every Open, which widens the window for
	// detecting concurrent access.
	Delay time.Duration

	// Block, when non-nil, is received from inside every Open.
	Block chan struct{}

	// InitBlock, when non-nil, is received from inside Init before it
	// returns.
	InitBlock chan struct{}

	// InitOutput is written line by line to the output sink during Init.
	InitOutput []string

	mu        sync.Mutex
	files     map[string]File
	opened    []string
	initOpts  backend.InitOptions
	inits     int
	shutdowns int

	inflight   atomic.Int32
	overlapped atomic.Bool
}

// New creates an empty fake backend.
func New() *Fake {
	return &Fake{files: make(map[string]File)}
}

// Factory returns a factory that always yields f.
func (f *Fake) Factory() backend.Factory {
	return func() (backend.Backend, error) { return f, nil }
}

// AddFile registers a fake file under path.
func (f *Fake) AddFile(path string, file File) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = file
}

// Init records the options and returns InitErr.
func (f *Fake) Init(_ context.Context, opts backend.InitOptions) error {
	defer f.enter()()

	if f.InitBlock != nil {
		<-f.InitBlock
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	f.initOpts = opts
	if opts.Output != nil {
		for _, line := range f.InitOutput {
			opts.Output("fake", line)
		}
	}
	return f.InitErr
}

// Open returns the registered file or ErrNotFound.
func (f *Fake) Open(ctx context.Context, path string) (backend.Dataset, error) {
	defer f.enter()()

	if f.Block != nil {
		select {
		case <-f.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, path)

	file, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, ErrNotFound)
	}
	return &dataset{owner: f, file: file}, nil
}

// Shutdown counts the call and returns ShutdownErr.
func (f *Fake) Shutdown(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return f.ShutdownErr
}

// Capabilities reports a fake in-process backend.
func (f *Fake) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: "fake", Transport: "memory", InProcess: true}
}

// Opened returns the paths passed to Open, in call order.
func (f *Fake) Opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

// Inits returns how many times Init was called.
func (f *Fake) Inits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits
}

// Shutdowns returns how many times Shutdown was called.
func (f *Fake) Shutdowns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdowns
}

// InitOptions returns the options passed to the last Init.
func (f *Fake) InitOptions() backend.InitOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initOpts
}

// Overlapped reports whether two calls were ever inside the fake at once.
func (f *Fake) Overlapped() bool {
	return f.overlapped.Load()
}

func (f *Fake) enter() func() {
	if f.inflight.Add(1) > 1 {
		f.overlapped.Store(true)
	}
	return func() { f.inflight.Add(-1) }
}

type dataset struct {
	owner *Fake
	file  File
}

func (d *dataset) Series() []model.Series {
	return append([]model.Series(nil), d.file.Series...)
}

func (d *dataset) ReadPlane(_ context.Context, series, z, t, c int) ([]byte, error) {
	defer d.owner.enter()()

	if d.file.PlaneErr != nil {
		return nil, d.file.PlaneErr
	}
	if series < 0 || series >= len(d.file.Series) {
		return nil, fmt.Errorf("series %d out of range", series)
	}
	s := d.file.Series[series]
	if z >= s.SizeZ || t >= s.SizeT || c >= s.SizeC {
		return nil, fmt.Errorf("plane (%d, %d, %d) out of range", z, t, c)
	}
	return Plane(s, z, t, c), nil
}

func (d *dataset) Metadata(_ context.Context, series int) (backend.SeriesMetadata, error) {
	defer d.owner.enter()()

	if series < 0 || series >= len(d.file.Series) {
		return backend.SeriesMetadata{}, fmt.Errorf("series %d out of range", series)
	}
	md := backend.SeriesMetadata{Image: model.Fields{}, Pixels: model.Fields{}}
	if series < len(d.file.Image) {
		for k, v := range d.file.Image[series] {
			md.Image[k] = v
		}
	}
	if series < len(d.file.Pixels) {
		for k, v := range d.file.Pixels[series] {
			md.Pixels[k] = v
		}
	}
	return md, nil
}

func (d *dataset) Close() error { return nil }

// PlaneValue is the deterministic value stored at one pixel of a fake file.
func PlaneValue(s model.Series, z, t, c, y, x int) float64 {
	return float64((s.Index*31 + z*7 + t*5 + c*3 + y + x) % 127)
}

// Plane builds the little-endian (Y, X) plane for (z, t, c) of s.
func Plane(s model.Series, z, t, c int) []byte {
	size := s.DType.Size()
	out := make([]byte, s.PlaneBytes())
	for y := 0; y < s.SizeY; y++ {
		for x := 0; x < s.SizeX; x++ {
			off := (y*s.SizeX + x) * size
			encode(s.DType, PlaneValue(s, z, t, c, y, x), out[off:off+size])
		}
	}
	return out
}

func encode(dtype model.DType, v float64, b []byte) {
	switch dtype {
	case model.Uint8, model.Int8:
		b[0] = byte(int64(v))
	case model.Uint16, model.Int16:
		binary.LittleEndian.PutUint16(b, uint16(int64(v)))
	case model.Uint32, model.Int32:
		binary.LittleEndian.PutUint32(b, uint32(int64(v)))
	case model.Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case model.Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}

// TwoChannelFile returns a file with two single-plane, two-channel uint16
// series of 64x64 pixels named "STED 640" and "Confocal 561".
func TwoChannelFile() File {
	series := []model.Series{
		{Index: 0, Name: "STED 640", SizeX: 64, SizeY: 64, SizeZ: 1, SizeT: 1, SizeC: 2, DType: model.Uint16},
		{Index: 1, Name: "Confocal 561", SizeX: 64, SizeY: 64, SizeZ: 1, SizeT: 1, SizeC: 2, DType: model.Uint16},
	}
	return File{
		Series: series,
		Image: []model.Fields{
			{"Name": "STED 640", "AcquisitionDate": "2024-01-12T10:00:00"},
			{"Name": "Confocal 561", "AcquisitionDate": "2024-01-12T10:05:00"},
		},
		Pixels: []model.Fields{
			{"SizeX": 64, "SizeY": 64, "SizeC": 2, "PhysicalSizeX": 0.02, "PhysicalSizeY": 0.02},
			{"SizeX": 64, "SizeY": 64, "SizeC": 2, "PhysicalSizeX": 0.04, "PhysicalSizeY": 0.04},
		},
	}
}
