package pipeline

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/docpipe/docpipe/internal/flows"
	"github.com/docpipe/docpipe/internal/parser"
	"github.com/docpipe/docpipe/internal/store"
	"github.com/docpipe/docpipe/internal/task"
)

// handleValidate enforces the domain validation rules. Failures here are
// ValidationErrors: the task is rejected, not errored. For plain text the
// validate stage also writes the paragraph segments, since there is no markup
// parse stage behind it.
func (o *Orchestrator) handleValidate(ctx context.Context, p flows.Payload) error {
	t, err := o.stores.Tasks.FindByID(ctx, p.TaskID())
	if err != nil {
		return fmt.Errorf("load task %s: %w", p.TaskID(), err)
	}
	logger := o.logger.With("task_id", t.ID, "job", JobValidate)

	if !t.Type.Known() {
		return &ValidationError{Reason: fmt.Sprintf("unsupported task type %q", t.Type)}
	}
	if len(t.SourceContent) > o.maxBytes {
		return &ValidationError{Reason: fmt.Sprintf("content size %d exceeds limit of %d bytes", len(t.SourceContent), o.maxBytes)}
	}
	if strings.TrimSpace(t.SourceContent) == "" {
		return &ValidationError{Reason: "no translatable text content"}
	}

	switch t.Type {
	case task.TypeHTML, task.TypeEmail:
		if err := validateHTML(t.SourceContent); err != nil {
			return err
		}
	case task.TypeXLIFF:
		if err := validateXLIFF(t.SourceContent); err != nil {
			return err
		}
	case task.TypePlainText:
		if err := o.parseAndStore(ctx, t); err != nil {
			return err
		}
	}

	logger.Debug("validation passed")
	return nil
}

// validateHTML checks that the document carries translatable text outside of
// script and style blocks.
func validateHTML(content string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("malformed HTML: %v", err)}
	}
	sel := doc.Clone()
	sel.Find("script, style, noscript, template").Remove()
	if strings.TrimSpace(sel.Text()) == "" && sel.Find("img").Length() == 0 {
		return &ValidationError{Reason: "no translatable text content"}
	}
	return nil
}

// validateXLIFF checks well-formedness and requires at least one non-empty
// <source> element.
func validateXLIFF(content string) error {
	dec := xml.NewDecoder(strings.NewReader(content))
	depth := 0
	var sourceText strings.Builder
	hasSource := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return &ValidationError{Reason: fmt.Sprintf("malformed XLIFF: %v", err)}
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "source" {
				depth++
			}
		case xml.EndElement:
			if el.Name.Local == "source" {
				depth--
			}
		case xml.CharData:
			if depth > 0 {
				sourceText.Write(el)
				hasSource = true
			}
		}
	}
	if !hasSource || strings.TrimSpace(sourceText.String()) == "" {
		return &ValidationError{Reason: "no translatable text content in source elements"}
	}
	return nil
}

// handleParse runs the type-specific parser, masks sensitive data in every
// segment, and persists segments, mappings, structure and word count.
func (o *Orchestrator) handleParse(ctx context.Context, p flows.Payload) error {
	t, err := o.stores.Tasks.FindByID(ctx, p.TaskID())
	if err != nil {
		return fmt.Errorf("load task %s: %w", p.TaskID(), err)
	}
	return o.parseAndStore(ctx, t)
}

func (o *Orchestrator) parseAndStore(ctx context.Context, t *task.Task) error {
	pr, err := parser.ForType(t.Type)
	if err != nil {
		return err
	}
	res, err := pr.Parse(t.SourceContent)
	if err != nil {
		// Parser failures are structural: the input could not be decomposed.
		return &ValidationError{Reason: err.Error()}
	}

	var mappings []store.SensitiveMapping
	for _, seg := range res.Segments {
		seg.TaskID = t.ID
		masked, found := o.masker.Mask(seg.SourceContent)
		seg.SourceContent = masked
		for _, m := range found {
			mappings = append(mappings, store.SensitiveMapping{
				TaskID:   t.ID,
				Token:    m.Token,
				Type:     string(m.Type),
				Original: m.Original,
			})
		}
	}

	if err := o.stores.Segments.SaveMany(ctx, res.Segments); err != nil {
		return fmt.Errorf("save segments for task %s: %w", t.ID, err)
	}
	if len(mappings) > 0 {
		if err := o.stores.Mappings.SaveMany(ctx, mappings); err != nil {
			return fmt.Errorf("save mappings for task %s: %w", t.ID, err)
		}
	}

	err = o.updateTask(ctx, t.ID, func(fresh *task.Task) error {
		fresh.Structure = res.Structure
		fresh.WordCount = res.WordCount
		return nil
	})
	if err != nil {
		return err
	}

	o.logger.Info("task parsed",
		"task_id", t.ID,
		"segments", len(res.Segments),
		"words", res.WordCount,
		"masked_entities", len(mappings))
	return nil
}

// handleAnonymize sends the masked segment texts to the anonymization service
// in one batch and stores the anonymized variants. Service-reported mappings
// go through the async sink so the stage never blocks on mapping writes.
func (o *Orchestrator) handleAnonymize(ctx context.Context, p flows.Payload) error {
	segs, err := o.stores.Segments.FindByTaskID(ctx, p.TaskID())
	if err != nil {
		return fmt.Errorf("load segments for task %s: %w", p.TaskID(), err)
	}
	if len(segs) == 0 {
		return fmt.Errorf("task %s has no segments to anonymize", p.TaskID())
	}

	texts := make([]string, len(segs))
	for i, s := range segs {
		texts[i] = s.SourceContent
	}

	results, err := o.anonymizer.AnonymizeBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("anonymize task %s: %w", p.TaskID(), err)
	}

	for i, s := range segs {
		s.AnonymizedContent = results[i].AnonymizedText
		if o.sink != nil {
			for _, m := range results[i].Mappings {
				o.sink.Send(store.SensitiveMapping{
					TaskID:   p.TaskID(),
					Token:    m.Placeholder,
					Type:     m.EntityType,
					Original: m.Original,
				})
			}
		}
	}

	if err := o.stores.Segments.SaveMany(ctx, segs); err != nil {
		return fmt.Errorf("save anonymized segments for task %s: %w", p.TaskID(), err)
	}
	o.logger.Debug("segments anonymized", "task_id", p.TaskID(), "count", len(segs))
	return nil
}

// handleComplete is the flow root: every stage beneath it succeeded, so the
// task moves to PARSED.
func (o *Orchestrator) handleComplete(ctx context.Context, p flows.Payload) error {
	err := o.updateTask(ctx, p.TaskID(), func(t *task.Task) error {
		return t.MarkParsed(t.WordCount)
	})
	if err != nil {
		return err
	}
	o.logger.Info("task processing complete", "task_id", p.TaskID())
	return nil
}
