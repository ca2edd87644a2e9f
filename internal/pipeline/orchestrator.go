// Package pipeline drives translation tasks through their processing flow:
// validation, parsing with sensitive-data masking, anonymization, and the
// completion transition. A per-type strategy expands one "process this task"
// request into a flow tree; the orchestrator registers the stage handlers and
// translates flow outcomes into task state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/docpipe/docpipe/internal/anonymizer"
	"github.com/docpipe/docpipe/internal/flows"
	"github.com/docpipe/docpipe/internal/masker"
	"github.com/docpipe/docpipe/internal/store"
	"github.com/docpipe/docpipe/internal/task"
)

// Anonymizer is the slice of the anonymization client the pipeline needs.
type Anonymizer interface {
	AnonymizeBatch(ctx context.Context, texts []string) ([]anonymizer.Result, error)
}

// ValidationError marks a domain-level validation failure: the task is
// rejected rather than errored, and the reason is user-visible.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// OrchestratorConfig configures the pipeline orchestrator.
type OrchestratorConfig struct {
	Logger     *slog.Logger
	Stores     store.Stores
	Scheduler  *flows.Scheduler
	Masker     *masker.Masker
	Anonymizer Anonymizer
	Sink       *store.MappingSink

	// MaxContentBytes rejects tasks whose source exceeds this size.
	// Default 2 MiB.
	MaxContentBytes int
}

// Orchestrator owns the stage handlers and the task state machine.
type Orchestrator struct {
	logger     *slog.Logger
	stores     store.Stores
	scheduler  *flows.Scheduler
	masker     *masker.Masker
	anonymizer Anonymizer
	sink       *store.MappingSink
	maxBytes   int
}

// NewOrchestrator creates the orchestrator and registers its job handlers on
// the scheduler.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = 2 << 20
	}
	o := &Orchestrator{
		logger:     logger.With("component", "pipeline"),
		stores:     cfg.Stores,
		scheduler:  cfg.Scheduler,
		masker:     cfg.Masker,
		anonymizer: cfg.Anonymizer,
		sink:       cfg.Sink,
		maxBytes:   cfg.MaxContentBytes,
	}

	cfg.Scheduler.RegisterHandler(JobStartFlow, o.handleStartFlow)
	cfg.Scheduler.RegisterHandler(JobValidate, o.handleValidate)
	cfg.Scheduler.RegisterHandler(JobParse, o.handleParse)
	cfg.Scheduler.RegisterHandler(JobAnonymize, o.handleAnonymize)
	cfg.Scheduler.RegisterHandler(JobComplete, o.handleComplete)
	return o
}

// StartFlow schedules processing for a task. The actual stage submission runs
// as a single orchestration job so task intake never blocks on flow setup.
func (o *Orchestrator) StartFlow(ctx context.Context, t *task.Task) error {
	spec := flows.FlowSpec{
		Root: flows.JobNode{
			Name:    JobStartFlow,
			Queue:   QueueOrchestration,
			Payload: basePayload(t),
		},
	}
	_, err := o.scheduler.Submit(ctx, spec, nil)
	return err
}

// handleStartFlow moves the task into PROCESSING and submits its stage flow.
// Tasks not queued for processing are left alone: a duplicate start request
// is a no-op, not an error.
func (o *Orchestrator) handleStartFlow(ctx context.Context, p flows.Payload) error {
	t, err := o.stores.Tasks.FindByID(ctx, p.TaskID())
	if err != nil {
		return fmt.Errorf("load task %s: %w", p.TaskID(), err)
	}
	if t.Stage != task.StageQueuedForProcessing {
		o.logger.Info("task not queued for processing, skipping",
			"task_id", t.ID, "stage", t.Stage)
		return nil
	}

	strategy, err := StrategyFor(t.Type)
	if err != nil {
		return err
	}

	if err := t.MarkProcessing(); err != nil {
		return err
	}
	if err := o.stores.Tasks.Save(ctx, t); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}

	flowID, err := o.scheduler.Submit(ctx, strategy(t), func(res flows.FlowResult) {
		o.onFlowDone(t.ID, res)
	})
	if err != nil {
		return fmt.Errorf("submit flow for task %s: %w", t.ID, err)
	}
	o.logger.Info("processing flow submitted", "task_id", t.ID, "type", t.Type, "flow_id", flowID)
	return nil
}

// FlowDone translates a terminal flow result into task state. Wired as the
// scheduler's global callback so resumed flows, which lose their
// per-submission callback across restarts, still reach it.
func (o *Orchestrator) FlowDone(res flows.FlowResult) {
	taskID := res.RootPayload.TaskID()
	if taskID == "" {
		return
	}
	o.onFlowDone(taskID, res)
}

func (o *Orchestrator) onFlowDone(taskID string, res flows.FlowResult) {
	if !res.Failed {
		return
	}
	ctx := context.Background()

	var verr *ValidationError
	if errors.As(res.Err, &verr) {
		err := o.updateTask(ctx, taskID, func(t *task.Task) error {
			t.MarkRejected(verr.Reason)
			return nil
		})
		if err != nil {
			o.logger.Error("failed to record task rejection", "task_id", taskID, "error", err)
		}
		o.logger.Info("task rejected", "task_id", taskID, "reason", verr.Reason)
		return
	}

	msg := fmt.Sprintf("job %s failed: %v", res.FailedJob, res.Err)
	err := o.updateTask(ctx, taskID, func(t *task.Task) error {
		t.MarkError(msg)
		return nil
	})
	if err != nil {
		o.logger.Error("failed to record task error", "task_id", taskID, "error", err)
	}
	o.logger.Warn("task processing failed", "task_id", taskID, "failed_job", res.FailedJob, "error", res.Err)
}

// updateTask applies mutate under the optimistic revision check, reloading
// and retrying on conflict.
func (o *Orchestrator) updateTask(ctx context.Context, id string, mutate func(*task.Task) error) error {
	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		t, err := o.stores.Tasks.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load task %s: %w", id, err)
		}
		if err := mutate(t); err != nil {
			return err
		}
		err = o.stores.Tasks.Save(ctx, t)
		if errors.Is(err, store.ErrRevisionConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("save task %s: %w", id, err)
		}
		return nil
	}
	return store.ErrRevisionConflict
}
