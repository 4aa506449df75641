package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/FLClab/TiffWrapper/internal/bridge"
	"github.com/FLClab/TiffWrapper/internal/runtimelog"
)

func (s *Server) handleRuntimeStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.bridge.Status())
}

// runtimeID returns the runtime selected by the runtime_id query parameter,
// defaulting to the current or most recent runtime. It writes a 404 and
// returns false when there is no such runtime: one that is neither the
// handle's current runtime nor known to the output broker.
func (s *Server) runtimeID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.output == nil {
		s.writeError(w, http.StatusNotFound, "runtime output is not captured")
		return "", false
	}

	current := s.bridge.Status().RuntimeID
	id := r.URL.Query().Get("runtime_id")
	switch {
	case id == "" && current == "":
		s.writeError(w, http.StatusNotFound, "no runtime has been started")
		return "", false
	case id == "":
		return current, true
	case id != current && !s.output.Has(id):
		s.writeError(w, http.StatusNotFound, "runtime not found")
		return "", false
	}
	return id, true
}

func (s *Server) handleStreamRuntimeLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runtimeID(w, r)
	if !ok {
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// A stopped runtime's topic is closed, so this returns a closed channel
	// and the loop below ends right after the done event.
	ch, unsub := s.output.Subscribe(id)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case line, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeSSELine(w, line); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// logHistoryResponse is the JSON response for GET /v1/runtime/logs/history.
type logHistoryResponse struct {
	RuntimeID string            `json:"runtime_id"`
	State     bridge.State      `json:"state"`
	Lines     []runtimelog.Line `json:"lines"`
}

func (s *Server) handleGetRuntimeLogHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runtimeID(w, r)
	if !ok {
		return
	}

	lines := s.output.History(id)
	if lines == nil {
		lines = []runtimelog.Line{}
	}

	resp := logHistoryResponse{RuntimeID: id, Lines: lines}
	if st := s.bridge.Status(); st.RuntimeID == id {
		resp.State = st.State
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// writeSSELine writes one runtime output line as a JSON-encoded SSE data event.
func writeSSELine(w http.ResponseWriter, line runtimelog.Line) error {
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	return writeSSEData(w, string(data))
}

// writeSSEData writes a log line as an SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix, as the event-stream format requires.
func writeSSEData(w http.ResponseWriter, line string) error {
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
