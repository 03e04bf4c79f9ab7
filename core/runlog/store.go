// Package runlog keeps a ledger of pipeline stage runs so operators can
// review what each scheduled invocation processed, skipped and wrote.
package runlog

import (
	"context"
	"sort"
	"time"

	"github.com/kilianp07/dockflow/core/model"
)

// Record captures one stage execution.
type Record struct {
	RunID     string            `json:"run_id"`
	Timestamp time.Time         `json:"timestamp"`
	Report    model.StageReport `json:"report"`
}

// Query defines filters for retrieving records. Limit keeps the most recent
// records when positive.
type Query struct {
	Start time.Time
	End   time.Time
	Stage model.Stage
	RunID string
	Limit int
}

func (q Query) match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Stage != "" && r.Report.Stage != q.Stage {
		return false
	}
	if q.RunID != "" && r.RunID != q.RunID {
		return false
	}
	return true
}

// finish orders records by time and applies the limit.
func (q Query) finish(recs []Record) []Record {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp.Before(recs[j].Timestamp) })
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[len(recs)-q.Limit:]
	}
	return recs
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// NopStore discards records.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error          { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }
