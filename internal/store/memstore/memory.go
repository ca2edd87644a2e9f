// Package memstore implements the persistence ports with plain maps. It
// backs tests and local development; semantics (revision checks, append-only
// mappings, dense segment ordering) mirror the SQLite store exactly.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/docpipe/docpipe/internal/segment"
	"github.com/docpipe/docpipe/internal/store"
	"github.com/docpipe/docpipe/internal/task"
)

// Memory holds the shared state behind the per-port views. Aggregates are
// stored by value; the nested Structure pointer is treated as immutable after
// parse.
type Memory struct {
	mu       sync.RWMutex
	tasks    map[string]task.Task
	segments map[string]map[int]segment.Segment // taskID -> order -> segment
	mappings map[string][]store.SensitiveMapping
	jobs     map[string]store.JobRecord
	jobOrder []string
}

// New returns an empty in-memory store.
func New() *Memory {
	return &Memory{
		tasks:    make(map[string]task.Task),
		segments: make(map[string]map[int]segment.Segment),
		mappings: make(map[string][]store.SensitiveMapping),
		jobs:     make(map[string]store.JobRecord),
	}
}

// Stores returns the port bundle backed by this instance.
func (m *Memory) Stores() store.Stores {
	return store.Stores{
		Tasks:    taskStore{m},
		Segments: segmentStore{m},
		Mappings: mappingStore{m},
		Flows:    flowStore{m},
	}
}

type taskStore struct{ m *Memory }

func (s taskStore) FindByID(_ context.Context, id string) (*task.Task, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	t, ok := s.m.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := t
	return &cp, nil
}

// Save enforces the optimistic revision check: the incoming revision must
// match the stored one.
func (s taskStore) Save(_ context.Context, t *task.Task) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if existing, ok := s.m.tasks[t.ID]; ok && existing.Revision != t.Revision {
		return store.ErrRevisionConflict
	}
	t.Revision++
	t.UpdatedAt = time.Now().UTC()
	s.m.tasks[t.ID] = *t
	return nil
}

type segmentStore struct{ m *Memory }

func (s segmentStore) FindByTaskID(_ context.Context, taskID string) ([]*segment.Segment, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	byOrder := s.m.segments[taskID]
	segs := make([]*segment.Segment, 0, len(byOrder))
	for _, sg := range byOrder {
		cp := sg
		segs = append(segs, &cp)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Order < segs[j].Order })
	return segs, nil
}

func (s segmentStore) Save(_ context.Context, sg *segment.Segment) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.put(sg)
	return nil
}

// SaveMany replaces the stored segment set for every task in the batch,
// matching the SQLite store: a re-run of the parse stage mints fresh segment
// ids and must not leave stale rows behind.
func (s segmentStore) SaveMany(_ context.Context, segs []*segment.Segment) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cleared := make(map[string]bool)
	for _, sg := range segs {
		if !cleared[sg.TaskID] {
			delete(s.m.segments, sg.TaskID)
			cleared[sg.TaskID] = true
		}
		s.put(sg)
	}
	return nil
}

func (s segmentStore) put(sg *segment.Segment) {
	byOrder, ok := s.m.segments[sg.TaskID]
	if !ok {
		byOrder = make(map[int]segment.Segment)
		s.m.segments[sg.TaskID] = byOrder
	}
	sg.UpdatedAt = time.Now().UTC()
	byOrder[sg.Order] = *sg
}

type mappingStore struct{ m *Memory }

func (s mappingStore) FindByTaskID(_ context.Context, taskID string) ([]store.SensitiveMapping, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make([]store.SensitiveMapping, len(s.m.mappings[taskID]))
	copy(out, s.m.mappings[taskID])
	return out, nil
}

// SaveMany appends new mappings. Existing tokens are never overwritten: the
// mapping set for a task is append-only.
func (s mappingStore) SaveMany(_ context.Context, ms []store.SensitiveMapping) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, mp := range ms {
		if s.hasToken(mp.TaskID, mp.Token) {
			continue
		}
		if mp.CreatedAt.IsZero() {
			mp.CreatedAt = time.Now().UTC()
		}
		s.m.mappings[mp.TaskID] = append(s.m.mappings[mp.TaskID], mp)
	}
	return nil
}

func (s mappingStore) hasToken(taskID, token string) bool {
	for _, mp := range s.m.mappings[taskID] {
		if mp.Token == token {
			return true
		}
	}
	return false
}

type flowStore struct{ m *Memory }

func (s flowStore) SaveJobs(_ context.Context, recs []*store.JobRecord) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, r := range recs {
		if _, ok := s.m.jobs[r.ID]; !ok {
			s.m.jobOrder = append(s.m.jobOrder, r.ID)
		}
		s.m.jobs[r.ID] = *r
	}
	return nil
}

func (s flowStore) UpdateJobStatus(_ context.Context, id, status, errMsg string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	r, ok := s.m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	r.Status = status
	switch status {
	case "running":
		r.StartedAt = &now
	case "completed", "failed", "cancelled":
		r.CompletedAt = &now
	}
	if errMsg != "" {
		r.Error = errMsg
	}
	s.m.jobs[id] = r
	return nil
}

func (s flowStore) ListUnfinished(_ context.Context) ([]*store.JobRecord, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	unfinished := make(map[string]bool)
	for _, r := range s.m.jobs {
		if r.ParentID == "" && r.Status != "completed" && r.Status != "failed" && r.Status != "cancelled" {
			unfinished[r.FlowID] = true
		}
	}
	var out []*store.JobRecord
	for _, id := range s.m.jobOrder {
		r := s.m.jobs[id]
		if unfinished[r.FlowID] {
			cp := r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// JobRecord returns a stored job record by ID, for tests.
func (m *Memory) JobRecord(id string) (store.JobRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.jobs[id]
	return r, ok
}
