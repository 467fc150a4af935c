package status

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no row exists for the requested key.
var ErrNotFound = errors.New("status: entry not found")

/*
Table is the durable status record per job.

Every recorded payload is written twice: the "latest" row is replaced, and a
history row keyed "<ts_microseconds>_<stage>" is appended, so Timeline can
reconstruct the job's past even when "latest" has moved on.
*/
type Table interface {
	Record(ctx context.Context, payload map[string]interface{}) error
	Latest(ctx context.Context, jobID string) (map[string]interface{}, error)
	// Timeline returns history rows in ascending row-key (chronological) order.
	Timeline(ctx context.Context, jobID string) ([]map[string]interface{}, error)
}

// DocumentIndex is the per-user listing of jobs and their headline state.
type DocumentIndex interface {
	Upsert(ctx context.Context, userID, jobID string, fields map[string]interface{}) error
	List(ctx context.Context, userID string) ([]map[string]interface{}, error)
	Get(ctx context.Context, userID, jobID string) (map[string]interface{}, error)
}
