package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/docpipe/docpipe/internal/masker"
	"github.com/docpipe/docpipe/internal/parser"
	"github.com/docpipe/docpipe/internal/segment"
	"github.com/docpipe/docpipe/internal/store"
	"github.com/docpipe/docpipe/internal/task"
)

// CreateTaskRequest is the task intake payload.
type CreateTaskRequest struct {
	Type          string `json:"type" validate:"required,oneof=EMAIL HTML PLAIN_TEXT XLIFF"`
	SourceContent string `json:"source_content" validate:"required"`
	Language      string `json:"language" validate:"omitempty,bcp47_language_tag"`
}

// TaskResponse is the external view of a task. Source content and the
// structure skeleton are internal.
type TaskResponse struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Stage           string    `json:"stage"`
	Status          string    `json:"status"`
	Language        string    `json:"language,omitempty"`
	WordCount       int       `json:"word_count"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func taskResponse(t *task.Task) TaskResponse {
	return TaskResponse{
		ID:              t.ID,
		Type:            string(t.Type),
		Stage:           string(t.Stage),
		Status:          string(t.Status),
		Language:        t.Language,
		WordCount:       t.WordCount,
		ErrorMessage:    t.ErrorMessage,
		RejectionReason: t.RejectionReason,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

// handleCreateTask accepts a document, persists it queued for processing, and
// schedules its flow.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t := task.New(task.Type(req.Type), req.SourceContent, req.Language)
	ctx := r.Context()
	if err := s.services.Stores.Tasks.Save(ctx, t); err != nil {
		s.logger.Error("failed to save task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save task")
		return
	}

	if err := s.services.Orchestrator.StartFlow(ctx, t); err != nil {
		s.logger.Error("failed to schedule task", "task_id", t.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to schedule task")
		return
	}

	writeJSON(w, http.StatusAccepted, taskResponse(t))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(t))
}

// SegmentResponse is the external view of a segment.
type SegmentResponse struct {
	ID                string `json:"id"`
	Order             int    `json:"order"`
	SourceContent     string `json:"source_content"`
	AnonymizedContent string `json:"anonymized_content,omitempty"`
	EditedContent     string `json:"edited_content,omitempty"`
	CurrentContent    string `json:"current_content"`
}

func (s *Server) handleListSegments(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	segs, err := s.services.Stores.Segments.FindByTaskID(r.Context(), t.ID)
	if err != nil {
		s.logger.Error("failed to load segments", "task_id", t.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load segments")
		return
	}

	out := make([]SegmentResponse, 0, len(segs))
	for _, sg := range segs {
		out = append(out, SegmentResponse{
			ID:                sg.ID,
			Order:             sg.Order,
			SourceContent:     sg.SourceContent,
			AnonymizedContent: sg.AnonymizedContent,
			EditedContent:     sg.EditedContent,
			CurrentContent:    sg.CurrentContent(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// EditSegmentRequest carries a human edit for one segment.
type EditSegmentRequest struct {
	Content string `json:"content" validate:"required"`
}

func (s *Server) handleEditSegment(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	order, err := strconv.Atoi(r.PathValue("order"))
	if err != nil || order < 1 {
		writeError(w, http.StatusBadRequest, "invalid segment order")
		return
	}

	var req EditSegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	segs, err := s.services.Stores.Segments.FindByTaskID(r.Context(), t.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load segments")
		return
	}
	var target *segment.Segment
	for _, sg := range segs {
		if sg.Order == order {
			target = sg
			break
		}
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "segment not found")
		return
	}

	target.EditedContent = req.Content
	if err := s.services.Stores.Segments.Save(r.Context(), target); err != nil {
		s.logger.Error("failed to save segment edit", "task_id", t.ID, "order", order, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save segment")
		return
	}

	writeJSON(w, http.StatusOK, SegmentResponse{
		ID:                target.ID,
		Order:             target.Order,
		SourceContent:     target.SourceContent,
		AnonymizedContent: target.AnonymizedContent,
		EditedContent:     target.EditedContent,
		CurrentContent:    target.CurrentContent(),
	})
}

// DocumentResponse carries the reconstructed document.
type DocumentResponse struct {
	TaskID   string `json:"task_id"`
	Document string `json:"document"`
}

// handleGetDocument reassembles the document from its structure skeleton and
// current segment contents, restoring masked sensitive data.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	if t.Structure == nil {
		writeError(w, http.StatusConflict, "task has no parsed structure yet")
		return
	}

	ctx := r.Context()
	segs, err := s.services.Stores.Segments.FindByTaskID(ctx, t.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load segments")
		return
	}

	doc, err := parser.Reconstruct(t.Structure, segs)
	if err != nil {
		s.logger.Error("failed to reconstruct document", "task_id", t.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reconstruct document")
		return
	}

	rows, err := s.services.Stores.Mappings.FindByTaskID(ctx, t.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load mappings")
		return
	}
	mappings := make([]masker.Mapping, 0, len(rows))
	for _, row := range rows {
		mappings = append(mappings, masker.Mapping{
			Token:    row.Token,
			Type:     masker.EntityType(row.Type),
			Original: row.Original,
		})
	}
	doc = masker.Unmask(doc, mappings)

	writeJSON(w, http.StatusOK, DocumentResponse{TaskID: t.ID, Document: doc})
}

// loadTask resolves the {id} path value, writing the error response itself
// when the task cannot be served.
func (s *Server) loadTask(w http.ResponseWriter, r *http.Request) (*task.Task, bool) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing task id")
		return nil, false
	}
	t, err := s.services.Stores.Tasks.FindByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("failed to load task", "task_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return nil, false
	}
	return t, true
}
