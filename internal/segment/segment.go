// Package segment defines the TranslationTaskSegment aggregate: one
// translatable unit extracted from a task's source document, together with
// the special tokens that stand in for its inline markup.
package segment

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TokenType classifies what a special token stands in for.
type TokenType string

const (
	TokenInline    TokenType = "INLINE_FORMATTING"
	TokenURL       TokenType = "URL"
	TokenImage     TokenType = "IMAGE"
	TokenLineBreak TokenType = "LINE_BREAK"
)

// Attr mirrors document.Attr for token attribute storage without importing
// the structure package here.
type Attr struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// SpecialToken describes one inline-markup fragment replaced by a placeholder
// inside segment text. SourceContent always holds the exact original markup.
type SpecialToken struct {
	ID            string    `json:"id"`
	Type          TokenType `json:"type"`
	SourceContent string    `json:"source_content"`

	// Inline formatting
	Tag   string `json:"tag,omitempty"`
	Attrs []Attr `json:"attrs,omitempty"`

	// URL
	Href        string `json:"href,omitempty"`
	DisplayText string `json:"display_text,omitempty"`

	// Image
	Src string `json:"src,omitempty"`
	Alt string `json:"alt,omitempty"`

	// SelfClosing placeholders carry no translatable inner text.
	SelfClosing bool `json:"self_closing,omitempty"`
}

// FormatMetadata records where a segment sat in its source format: the
// container tag for markup documents, table position for table cells, or the
// paragraph index for plain text.
type FormatMetadata struct {
	ContainerTag   string `json:"container_tag,omitempty"`
	TableRow       int    `json:"table_row,omitempty"`
	TableCol       int    `json:"table_col,omitempty"`
	ParagraphIndex int    `json:"paragraph_index,omitempty"`
}

// Segment is one translatable unit of a translation task.
type Segment struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`

	// Order is 1-based, dense and unique per task. It never changes after
	// creation; all downstream ordering derives from it.
	Order int `json:"order"`

	// SourceContent is the tokenized text: inline markup and sensitive data
	// replaced by placeholders.
	SourceContent            string `json:"source_content"`
	AnonymizedContent        string `json:"anonymized_content,omitempty"`
	MachineTranslatedContent string `json:"machine_translated_content,omitempty"`
	EditedContent            string `json:"edited_content,omitempty"`

	Tokens map[string]SpecialToken `json:"tokens,omitempty"`
	Format FormatMetadata          `json:"format,omitempty"`

	// Exactly one of these owns the segment: segments from customer orders
	// and editor evaluation tasks are never mixed.
	OrderID          string `json:"order_id,omitempty"`
	EvaluationTaskID string `json:"evaluation_task_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a segment for the given task with the next order value.
func New(taskID string, order int, sourceContent string, tokens map[string]SpecialToken) *Segment {
	now := time.Now().UTC()
	return &Segment{
		ID:            uuid.New().String(),
		TaskID:        taskID,
		Order:         order,
		SourceContent: sourceContent,
		Tokens:        tokens,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// CurrentContent returns the segment text that downstream stages should use:
// a human edit wins over machine translation, which wins over the source.
func (s *Segment) CurrentContent() string {
	if s.EditedContent != "" {
		return s.EditedContent
	}
	if s.MachineTranslatedContent != "" {
		return s.MachineTranslatedContent
	}
	return s.SourceContent
}

// ErrAmbiguousOwner is returned when a segment claims both an order and an
// evaluation task context.
var ErrAmbiguousOwner = errors.New("segment owned by both order and evaluation task")

// ValidateOwner enforces the single-owner invariant.
func (s *Segment) ValidateOwner() error {
	if s.OrderID != "" && s.EvaluationTaskID != "" {
		return ErrAmbiguousOwner
	}
	return nil
}
