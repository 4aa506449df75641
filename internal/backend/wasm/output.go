package wasm

import (
	"bytes"
	"log/slog"

	"github.com/FLClab/TiffWrapper/internal/backend"
)

// lineWriter forwards guest stdout and stderr to the log, one record per line,
// and to the output sink when one is set. Only the worker goroutine calls
// into the guest, so it needs no locking.
type lineWriter struct {
	logger *slog.Logger
	output backend.OutputFunc
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := string(w.buf[:i])
		w.logger.Debug("runtime output", "source", BackendName, "line", line)
		if w.output != nil {
			w.output(BackendName, line)
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
