package pipeline

import (
	"fmt"

	"github.com/docpipe/docpipe/internal/flows"
	"github.com/docpipe/docpipe/internal/task"
)

// Job names are dispatch keys shared between the strategies that build flow
// trees and the handlers registered on the scheduler. They must stay stable
// within one deployment.
const (
	JobStartFlow = "startFlow"
	JobValidate  = "validate"
	JobParse     = "parse"
	JobAnonymize = "anonymize"
	JobComplete  = "task-processing-complete"
)

// Queue names.
const (
	QueueOrchestration = "orchestration"
	QueueProcessing    = "processing"
)

// StrategyFunc builds the processing flow for one task. Children of a node
// run before the node itself, so the deepest job executes first.
type StrategyFunc func(t *task.Task) flows.FlowSpec

var strategies = map[task.Type]StrategyFunc{
	task.TypeHTML:      markupStrategy,
	task.TypeEmail:     markupStrategy,
	task.TypeXLIFF:     markupStrategy,
	task.TypePlainText: plainTextStrategy,
}

// StrategyFor returns the flow builder for a task type.
func StrategyFor(t task.Type) (StrategyFunc, error) {
	s, ok := strategies[t]
	if !ok {
		return nil, fmt.Errorf("no processing strategy for task type %q", t)
	}
	return s, nil
}

func basePayload(t *task.Task) flows.Payload {
	return flows.Payload{
		"task_id":   t.ID,
		"task_type": string(t.Type),
	}
}

// markupStrategy covers HTML, EMAIL and XLIFF tasks:
// validate -> parse -> anonymize -> completion.
func markupStrategy(t *task.Task) flows.FlowSpec {
	p := basePayload(t)
	return flows.FlowSpec{
		Root: flows.JobNode{
			Name:    JobComplete,
			Queue:   QueueProcessing,
			Payload: p,
			Children: []flows.JobNode{{
				Name:                     JobAnonymize,
				Queue:                    QueueProcessing,
				Payload:                  p,
				FailParentOnChildFailure: true,
				Children: []flows.JobNode{{
					Name:                     JobParse,
					Queue:                    QueueProcessing,
					Payload:                  p,
					FailParentOnChildFailure: true,
					Children: []flows.JobNode{{
						Name:                     JobValidate,
						Queue:                    QueueProcessing,
						Payload:                  p,
						FailParentOnChildFailure: true,
					}},
				}},
			}},
		},
	}
}

// plainTextStrategy has no markup parse stage: the validate handler also
// writes the paragraph segments, then anonymization and completion follow.
func plainTextStrategy(t *task.Task) flows.FlowSpec {
	p := basePayload(t)
	return flows.FlowSpec{
		Root: flows.JobNode{
			Name:    JobComplete,
			Queue:   QueueProcessing,
			Payload: p,
			Children: []flows.JobNode{{
				Name:                     JobAnonymize,
				Queue:                    QueueProcessing,
				Payload:                  p,
				FailParentOnChildFailure: true,
				Children: []flows.JobNode{{
					Name:                     JobValidate,
					Queue:                    QueueProcessing,
					Payload:                  p,
					FailParentOnChildFailure: true,
				}},
			}},
		},
	}
}
