// Package task defines the TranslationTask aggregate and its processing
// state machine. A task is one document submitted for translation; pipeline
// stage handlers and the orchestrator are its only mutators.
package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docpipe/docpipe/internal/document"
)

// Type is the source format of a task's content.
type Type string

const (
	TypeEmail     Type = "EMAIL"
	TypeHTML      Type = "HTML"
	TypePlainText Type = "PLAIN_TEXT"
	TypeXLIFF     Type = "XLIFF"
)

// Known reports whether t is a supported task type.
func (t Type) Known() bool {
	switch t {
	case TypeEmail, TypeHTML, TypePlainText, TypeXLIFF:
		return true
	}
	return false
}

// Stage is a point in the task's processing state machine. Transitions are
// monotonic within one processing attempt: no two stages are ever active
// concurrently for the same task.
type Stage string

const (
	StageQueuedForProcessing Stage = "QUEUED_FOR_PROCESSING"
	StageProcessing          Stage = "PROCESSING"
	StageParsed              Stage = "PARSED"
	StageProcessingError     Stage = "PROCESSING_ERROR"
)

// Status is the coarse externally visible lifecycle of a task.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusError      Status = "ERROR"
	StatusRejected   Status = "REJECTED"
	StatusCompleted  Status = "COMPLETED"
)

// transitions lists the allowed stage moves.
var transitions = map[Stage][]Stage{
	StageQueuedForProcessing: {StageProcessing},
	StageProcessing:          {StageParsed, StageProcessingError},
}

// Task is one document submitted for processing.
type Task struct {
	ID            string              `json:"id"`
	Type          Type                `json:"type"`
	SourceContent string              `json:"source_content"`
	Language      string              `json:"language,omitempty"`
	Structure     *document.Structure `json:"structure,omitempty"`

	Stage  Stage  `json:"stage"`
	Status Status `json:"status"`

	// WordCount is only meaningful once Stage is PARSED or later.
	WordCount int `json:"word_count"`

	ErrorMessage    string `json:"error_message,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`

	// Revision is an optimistic concurrency counter checked by stores on
	// save, so two stage handlers racing on the same row cannot silently
	// lose an update.
	Revision int64 `json:"revision"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a task queued for processing.
func New(taskType Type, sourceContent, language string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:            uuid.New().String(),
		Type:          taskType,
		SourceContent: sourceContent,
		Language:      language,
		Stage:         StageQueuedForProcessing,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ErrInvalidTransition is wrapped by TransitionTo on a disallowed stage move.
var ErrInvalidTransition = errors.New("invalid stage transition")

// TransitionTo moves the task to the next stage, rejecting non-monotonic or
// unknown moves.
func (t *Task) TransitionTo(next Stage) error {
	for _, allowed := range transitions[t.Stage] {
		if allowed == next {
			t.Stage = next
			t.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Stage, next)
}

// MarkProcessing moves the task into PROCESSING and flips its status.
func (t *Task) MarkProcessing() error {
	if err := t.TransitionTo(StageProcessing); err != nil {
		return err
	}
	t.Status = StatusInProgress
	return nil
}

// MarkParsed records the parse results and moves the task to PARSED.
func (t *Task) MarkParsed(wordCount int) error {
	if err := t.TransitionTo(StageParsed); err != nil {
		return err
	}
	t.WordCount = wordCount
	return nil
}

// MarkError records a processing failure. The stage move is forced: an errored
// task always lands in PROCESSING_ERROR regardless of where it failed.
func (t *Task) MarkError(msg string) {
	t.Stage = StageProcessingError
	t.Status = StatusError
	t.ErrorMessage = msg
	t.UpdatedAt = time.Now().UTC()
}

// MarkRejected records a fatal validation failure.
func (t *Task) MarkRejected(reason string) {
	t.Stage = StageProcessingError
	t.Status = StatusRejected
	t.RejectionReason = reason
	t.UpdatedAt = time.Now().UTC()
}

// Terminal reports whether the task has reached a terminal status.
func (t *Task) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusRejected, StatusError:
		return true
	}
	return false
}
