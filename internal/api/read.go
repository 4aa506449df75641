package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/FLClab/TiffWrapper/internal/bridge"
	"github.com/FLClab/TiffWrapper/internal/model"
)

const maxBodySize = 1 << 20 // 1 MB

// fileRequest is the JSON body for POST /v1/read and POST /v1/metadata.
type fileRequest struct {
	Path        string `json:"path"`
	IncludeData bool   `json:"include_data"`
}

// readResponse maps series names to their arrays. Data is only present
// when the request asked for it.
type readResponse struct {
	Path   string                 `json:"path"`
	Series map[string]model.Array `json:"series"`
}

type metadataResponse struct {
	Path   string               `json:"path"`
	Series model.MetadataBundle `json:"series"`
}

// errorResponse is the JSON body of every failed request. Kind and CallID
// are set for bridge failures.
type errorResponse struct {
	Error  string      `json:"error"`
	Kind   bridge.Kind `json:"kind,omitempty"`
	CallID string      `json:"call_id,omitempty"`
}

func (s *Server) decodeFileRequest(w http.ResponseWriter, r *http.Request) (fileRequest, bool) {
	var req fileRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if req.Path == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return req, false
	}

	// Reads can legitimately outlast the server's write timeout; the
	// bridge's call timeout bounds them instead.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline", "error", err)
	}
	return req, true
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeFileRequest(w, r)
	if !ok {
		return
	}

	images, err := s.bridge.Read(r.Context(), req.Path)
	if err != nil {
		s.writeBridgeError(w, r, err)
		return
	}

	series := make(map[string]model.Array, len(images))
	for name, arr := range images {
		if !req.IncludeData {
			arr.Data = nil
		}
		arrayBytesTotal.Add(float64(len(arr.Data)))
		series[name] = arr
	}
	s.writeJSON(w, http.StatusOK, readResponse{Path: req.Path, Series: series})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeFileRequest(w, r)
	if !ok {
		return
	}

	md, err := s.bridge.GetMetadata(r.Context(), req.Path)
	if err != nil {
		s.writeBridgeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, metadataResponse{Path: req.Path, Series: md})
}

// bridgeErrorStatus maps a bridge failure to an HTTP status code.
func bridgeErrorStatus(err error) int {
	switch {
	case bridge.IsTimeout(err):
		return http.StatusGatewayTimeout
	case bridge.IsStartupError(err), bridge.IsStopped(err):
		return http.StatusServiceUnavailable
	case bridge.IsReadError(err), bridge.IsMetadataError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeBridgeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}
	var be *bridge.Error
	if errors.As(err, &be) {
		resp.Kind = be.Kind
		resp.CallID = be.CallID
		recordErrorKind(r.Context(), be.Kind)
	}
	s.writeJSON(w, bridgeErrorStatus(err), resp)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
