// Package store defines the persistence ports for the pipeline: tasks,
// segments, sensitive-data mappings and flow job records. Two implementations
// exist: an embedded SQLite store for durable operation and an in-memory
// store for tests and development.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/docpipe/docpipe/internal/segment"
	"github.com/docpipe/docpipe/internal/task"
)

var (
	// ErrNotFound is returned when a requested aggregate does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRevisionConflict is returned by TaskStore.Save when the incoming
	// revision does not match the stored one: another writer got there first.
	ErrRevisionConflict = errors.New("task revision conflict")
)

// TaskStore persists TranslationTask aggregates. Save performs an optimistic
// concurrency check: the incoming task's Revision must equal the stored
// revision, and both are incremented on success.
type TaskStore interface {
	FindByID(ctx context.Context, id string) (*task.Task, error)
	Save(ctx context.Context, t *task.Task) error
}

// SegmentStore persists task segments. Segments are created in bulk once and
// mutated in place by later stages; they are never reordered.
type SegmentStore interface {
	FindByTaskID(ctx context.Context, taskID string) ([]*segment.Segment, error)
	Save(ctx context.Context, s *segment.Segment) error
	SaveMany(ctx context.Context, segs []*segment.Segment) error
}

// SensitiveMapping is one token-identifier -> original value row. The mapping
// set for a task is append-only.
type SensitiveMapping struct {
	TaskID    string    `json:"task_id"`
	Token     string    `json:"token"`
	Type      string    `json:"type"`
	Original  string    `json:"original"`
	CreatedAt time.Time `json:"created_at"`
}

// MappingStore persists sensitive-data mappings.
type MappingStore interface {
	FindByTaskID(ctx context.Context, taskID string) ([]SensitiveMapping, error)
	SaveMany(ctx context.Context, ms []SensitiveMapping) error
}

// JobRecord is the durable row behind one flow job node.
type JobRecord struct {
	ID       string `json:"id"`
	FlowID   string `json:"flow_id"`
	ParentID string `json:"parent_id,omitempty"`
	Name     string `json:"name"`
	Queue    string `json:"queue"`

	PayloadJSON string `json:"payload_json,omitempty"`
	FailParent  bool   `json:"fail_parent"`

	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// FlowStore persists flow job records so interrupted flows can be resumed.
type FlowStore interface {
	SaveJobs(ctx context.Context, recs []*JobRecord) error
	UpdateJobStatus(ctx context.Context, id, status, errMsg string) error
	// ListUnfinished returns the records of every flow that still has a
	// non-terminal root job, grouped by flow in creation order.
	ListUnfinished(ctx context.Context) ([]*JobRecord, error)
}

// Stores bundles the four ports for constructor injection.
type Stores struct {
	Tasks    TaskStore
	Segments SegmentStore
	Mappings MappingStore
	Flows    FlowStore
}
