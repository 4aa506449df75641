package backend

import (
	"context"
	"strings"

	"github.com/FLClab/TiffWrapper/internal/model"
)

// DefaultLogLevel is the runtime verbosity applied at startup. It keeps the
// reader's diagnostic output down to warnings.
const DefaultLogLevel = "WARN"

// LogLevels lists the runtime verbosity levels a backend accepts.
var LogLevels = []string{"OFF", "ERROR", "WARN", "INFO", "DEBUG", "TRACE"}

// Backend is the interface that all reader runtimes must implement.
//
// A Backend is not safe for concurrent use. The bridge worker is the only
// goroutine that ever calls into it, from Init through Shutdown.
type Backend interface {
	// Init starts the runtime. It is called exactly once and is not retried.
	Init(ctx context.Context, opts InitOptions) error

	// Open opens a measurement file and enumerates its series.
	Open(ctx context.Context, path string) (Dataset, error)

	// Shutdown releases the runtime. A second call is a no-op.
	Shutdown(ctx context.Context) error

	// Capabilities reports what this backend is and how it is hosted.
	Capabilities() Capabilities
}

// Dataset is one opened measurement file.
type Dataset interface {
	// Series returns the descriptors of every series in file order.
	Series() []model.Series

	// ReadPlane returns the raw little-endian (Y, X) plane at (z, t, c) of
	// the given series, without rescaling.
	ReadPlane(ctx context.Context, series, z, t, c int) ([]byte, error)

	// Metadata returns the queryable scalar fields of a series.
	Metadata(ctx context.Context, series int) (SeriesMetadata, error)

	// Close releases the file.
	Close() error
}

// InitOptions configures runtime startup.
type InitOptions struct {
	// ResourcePaths locates the runtime's resource bundle (jars, modules).
	ResourcePaths []string `json:"resource_paths,omitempty"`

	// LogLevel is the runtime's own logging verbosity, one of LogLevels.
	LogLevel string `json:"log_level"`

	// Output, when set, receives every line the runtime writes to its own
	// stdout or stderr. It is called from the runtime's goroutines and must
	// not block.
	Output OutputFunc `json:"-"`
}

// OutputFunc receives one line of runtime output tagged with its source.
type OutputFunc func(source, line string)

// SeriesMetadata holds image-level and pixel-level fields of one series.
type SeriesMetadata struct {
	Image  model.Fields `json:"image"`
	Pixels model.Fields `json:"pixels"`
}

// Merge flattens the metadata into one field mapping. Pixel fields
// overwrite image fields of the same name.
func (m SeriesMetadata) Merge() model.Fields {
	out := make(model.Fields, len(m.Image)+len(m.Pixels))
	for k, v := range m.Image {
		out[k] = v
	}
	for k, v := range m.Pixels {
		out[k] = v
	}
	return out
}

// Capabilities describes a backend.
type Capabilities struct {
	Name      string   `json:"name"`
	Transport string   `json:"transport"`
	Formats   []string `json:"formats,omitempty"`
	InProcess bool     `json:"in_process"`
}

// NormalizeLogLevel upper-cases level and falls back to DefaultLogLevel for
// anything not in LogLevels.
func NormalizeLogLevel(level string) string {
	upper := strings.ToUpper(strings.TrimSpace(level))
	for _, l := range LogLevels {
		if l == upper {
			return upper
		}
	}
	return DefaultLogLevel
}
