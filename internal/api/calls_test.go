package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FLClab/TiffWrapper/internal/model"
)

func TestListCallsEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/calls")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body listCallsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Calls == nil || len(body.Calls) != 0 {
		t.Errorf("calls = %v, want empty list", body.Calls)
	}
	if body.Limit != defaultListLimit {
		t.Errorf("limit = %d, want %d", body.Limit, defaultListLimit)
	}
}

func TestListCallsPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		rec := &model.CallRecord{
			ID:        model.NewID(),
			Op:        model.OpRead,
			Path:      fmt.Sprintf("/data/%d.msr", i),
			Status:    model.CallStatusOK,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := env.store.RecordCall(ctx, rec); err != nil {
			t.Fatalf("RecordCall: %v", err)
		}
	}

	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	tests := []struct {
		query      string
		wantLen    int
		wantLimit  int
		wantOffset int
		wantFirst  string
	}{
		{"?limit=2", 2, 2, 0, "/data/4.msr"},
		{"?limit=2&offset=2", 2, 2, 2, "/data/2.msr"},
		{"?limit=0", 5, defaultListLimit, 0, "/data/4.msr"},
		{"?limit=1000&offset=-3", 5, defaultListLimit, 0, "/data/4.msr"},
		{"?limit=abc", 5, defaultListLimit, 0, "/data/4.msr"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/v1/calls" + tt.query)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			defer resp.Body.Close()

			var body listCallsResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Total != 5 {
				t.Errorf("total = %d, want 5", body.Total)
			}
			if len(body.Calls) != tt.wantLen {
				t.Fatalf("len(calls) = %d, want %d", len(body.Calls), tt.wantLen)
			}
			if body.Limit != tt.wantLimit || body.Offset != tt.wantOffset {
				t.Errorf("limit/offset = %d/%d, want %d/%d", body.Limit, body.Offset, tt.wantLimit, tt.wantOffset)
			}
			if body.Calls[0].Path != tt.wantFirst {
				t.Errorf("first path = %q, want %q", body.Calls[0].Path, tt.wantFirst)
			}
		})
	}
}

func TestGetCallFromErrorResponse(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	failed := decodeError(t, postJSON(t, ts.URL+"/v1/read", fileRequest{Path: "/data/missing.msr"}))

	resp, err := http.Get(ts.URL + "/v1/calls/" + failed.CallID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var rec model.CallRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.ID != failed.CallID {
		t.Errorf("id = %q, want %q", rec.ID, failed.CallID)
	}
	if rec.Status != model.CallStatusFailed || rec.Op != model.OpRead {
		t.Errorf("record = %+v, want a failed read", rec)
	}
	if rec.Error != failed.Error {
		t.Errorf("journaled error = %q, want %q", rec.Error, failed.Error)
	}
}

func TestGetCallNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/calls/nonexistent")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
