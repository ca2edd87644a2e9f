// Package flows runs trees of dependent jobs. A flow is a tree of job nodes
// where every node's children must finish before the node itself runs, so
// leaves execute first and the root last. Jobs are dispatched to named queues
// with bounded concurrency, and each node is persisted as a job record so
// interrupted flows can be resumed after a restart.
package flows

import (
	"encoding/json"
	"fmt"
)

// Job status values persisted in job records.
const (
	StatusPending   = "pending"
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Payload is the opaque data handed to a job handler.
type Payload map[string]any

// TaskID returns the task identifier carried in the payload, if any.
func (p Payload) TaskID() string {
	id, _ := p["task_id"].(string)
	return id
}

// TaskType returns the task type carried in the payload, if any.
func (p Payload) TaskType() string {
	t, _ := p["task_type"].(string)
	return t
}

func (p Payload) encode() (string, error) {
	if len(p) == 0 {
		return "", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(data), nil
}

func decodePayload(raw string) (Payload, error) {
	if raw == "" {
		return Payload{}, nil
	}
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// JobNode describes one node of a flow tree before submission.
type JobNode struct {
	Name    string
	Queue   string
	Payload Payload

	// Children run before this node. The node is enqueued only once every
	// child has finished.
	Children []JobNode

	// FailParentOnChildFailure marks this node's failure as fatal to its
	// ancestors: when set, a failure here fails every ancestor up to the
	// root without executing them.
	FailParentOnChildFailure bool
}

// FlowSpec is a complete flow tree ready for submission.
type FlowSpec struct {
	Root JobNode
}

// FlowResult reports the terminal outcome of a flow. RootPayload is the root
// job's payload, carried so callbacks that outlive the submitting call (flow
// resumption after a restart in particular) can still tell which task the
// flow belonged to.
type FlowResult struct {
	FlowID      string
	RootPayload Payload
	Failed      bool
	FailedJob   string // name of the job whose failure ended the flow
	Err         error
}
