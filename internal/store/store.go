package store

import (
	"context"

	"github.com/FLClab/TiffWrapper/internal/model"
)

// CallStats holds aggregate statistics over the call journal.
type CallStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByOp     map[string]int `json:"count_by_op"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for the call journal.
type Store interface {
	RecordCall(ctx context.Context, rec *model.CallRecord) error
	GetCall(ctx context.Context, id string) (*model.CallRecord, error)
	ListCalls(ctx context.Context, limit, offset int) ([]*model.CallRecord, int, error)
	GetCallStats(ctx context.Context) (*CallStats, error)
	Close() error
}
