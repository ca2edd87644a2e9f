package flows

import (
	"context"
	"fmt"

	"github.com/docpipe/docpipe/internal/store"
)

// Resume rebuilds every unfinished flow from its persisted job records and
// re-enqueues the jobs that are ready to run. Jobs that were mid-execution
// when the process stopped run again; handlers are idempotent per stage so a
// re-run converges to the same state.
func (s *Scheduler) Resume(ctx context.Context) (int, error) {
	recs, err := s.fstore.ListUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished flows: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	byFlow := make(map[string][]*store.JobRecord)
	var flowOrder []string
	for _, r := range recs {
		if _, seen := byFlow[r.FlowID]; !seen {
			flowOrder = append(flowOrder, r.FlowID)
		}
		byFlow[r.FlowID] = append(byFlow[r.FlowID], r)
	}

	resumed := 0
	for _, flowID := range flowOrder {
		fs, err := s.rebuildFlow(flowID, byFlow[flowID])
		if err != nil {
			s.logger.Error("cannot resume flow", "flow_id", flowID, "error", err)
			continue
		}

		s.mu.Lock()
		s.flows[flowID] = fs
		s.mu.Unlock()

		if fs.failed {
			s.finishInterruptedFailure(ctx, fs)
			continue
		}

		s.logger.Info("flow resumed", "flow_id", flowID, "jobs", len(fs.jobs))
		s.enqueueReady(ctx, fs)
		resumed++
	}
	return resumed, nil
}

func (s *Scheduler) rebuildFlow(flowID string, recs []*store.JobRecord) (*flowState, error) {
	fs := &flowState{
		id:   flowID,
		jobs: make(map[string]*jobState),
	}

	for _, r := range recs {
		payload, err := decodePayload(r.PayloadJSON)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", r.ID, err)
		}
		// Jobs interrupted mid-flight or only queued go back to pending so
		// enqueueReady picks them up again.
		if r.Status == StatusRunning || r.Status == StatusQueued {
			r.Status = StatusPending
		}
		fs.jobs[r.ID] = &jobState{
			rec:        r,
			payload:    payload,
			failParent: r.FailParent,
		}
	}

	for id, js := range fs.jobs {
		parentID := js.rec.ParentID
		if parentID == "" {
			fs.rootID = id
			continue
		}
		parent, ok := fs.jobs[parentID]
		if !ok {
			return nil, fmt.Errorf("job %s references missing parent %s", id, parentID)
		}
		parent.childIDs = append(parent.childIDs, id)
		if !childSatisfied(js) {
			parent.remaining++
		}
	}
	if fs.rootID == "" {
		return nil, fmt.Errorf("flow has no root job")
	}

	// A child that failed with the fail-parent flag before the restart means
	// the flow is already lost; finish the propagation it never completed.
	for _, js := range fs.jobs {
		if js.rec.Status == StatusFailed && js.failParent {
			fs.failed = true
		}
	}
	return fs, nil
}

// finishInterruptedFailure completes failure propagation for a flow whose
// fatal child failure was recorded but whose ancestors were never marked
// before the restart.
func (s *Scheduler) finishInterruptedFailure(ctx context.Context, fs *flowState) {
	var failed *jobState
	for _, js := range fs.jobs {
		if js.rec.Status == StatusFailed && js.failParent {
			failed = js
			break
		}
	}
	if failed == nil {
		return
	}

	for id := failed.rec.ParentID; id != ""; {
		anc := fs.jobs[id]
		if anc.rec.Status != StatusFailed {
			anc.rec.Status = StatusFailed
			anc.rec.Error = fmt.Sprintf("child job %s failed: %s", failed.rec.Name, failed.rec.Error)
			_ = s.fstore.UpdateJobStatus(ctx, id, StatusFailed, anc.rec.Error)
		}
		id = anc.rec.ParentID
	}

	s.finishFlow(fs, FlowResult{
		FlowID:    fs.id,
		Failed:    true,
		FailedJob: failed.rec.Name,
		Err:       fmt.Errorf("%s", failed.rec.Error),
	})
}

// childSatisfied reports whether a child no longer blocks its parent: it
// completed, or it failed without the fail-parent flag.
func childSatisfied(js *jobState) bool {
	switch js.rec.Status {
	case StatusCompleted:
		return true
	case StatusFailed:
		return !js.failParent
	default:
		return false
	}
}
