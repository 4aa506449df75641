package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/FLClab/TiffWrapper/internal/model"
)

// MaxMessageSize is the maximum allowed frame payload (256 MiB). A single
// plane of a large tiled acquisition must fit in one frame.
const MaxMessageSize = 256 << 20

// Request operations.
const (
	OpInit     = "init"
	OpOpen     = "open"
	OpPlane    = "plane"
	OpMetadata = "metadata"
	OpClose    = "close"
	OpShutdown = "shutdown"
)

// Request is the JSON payload sent from the bridge to the runtime peer.
type Request struct {
	ID     uint64 `json:"id"`
	Op     string `json:"op"`
	Path   string `json:"path,omitempty"`
	Handle int    `json:"handle,omitempty"`
	Series int    `json:"series,omitempty"`
	Z      int    `json:"z,omitempty"`
	T      int    `json:"t,omitempty"`
	C      int    `json:"c,omitempty"`

	// Init only.
	ResourcePaths []string `json:"resource_paths,omitempty"`
	LogLevel      string   `json:"log_level,omitempty"`
}

// Response is the JSON payload sent from the runtime peer back to the bridge.
// A non-empty Error means the request failed and the other fields are unset.
type Response struct {
	ID     uint64         `json:"id"`
	Error  string         `json:"error,omitempty"`
	Handle int            `json:"handle,omitempty"`
	Series []model.Series `json:"series,omitempty"`
	Plane  []byte         `json:"plane,omitempty"`
	Image  model.Fields   `json:"image,omitempty"`
	Pixels model.Fields   `json:"pixels,omitempty"`
}

// RemoteError is a failure reported by the runtime peer for one request.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("runtime %s: %s", e.Op, e.Message)
}

// Err returns the response's failure as a *RemoteError, or nil.
func (r Response) Err(op string) error {
	if r.Error == "" {
		return nil
	}
	return &RemoteError{Op: op, Message: r.Error}
}

// WriteMessage writes a length-prefixed JSON message to w.
// The frame format is: 4-byte big-endian length prefix followed by the JSON payload.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", len(data), MaxMessageSize)
	}

	length := uint32(len(data))
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	return nil
}

// ReadMessage reads a length-prefixed JSON message from r and decodes it into v.
func ReadMessage(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}

	if length > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}

	return nil
}
