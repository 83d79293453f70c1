package reconcile

import (
	"context"
	"time"

	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/staleness"
)

// OutcomeStatus is the per-id result of a batch operation.
type OutcomeStatus string

// Outcome statuses.
const (
	OutcomeApplied   OutcomeStatus = "applied"
	OutcomeDiscarded OutcomeStatus = "discarded"
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Outcome reports what happened to one id of a batch.
type Outcome struct {
	ProposalID  string                 `json:"proposal_id"`
	Status      OutcomeStatus          `json:"status"`
	Reason      errors.Code            `json:"reason,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Transitions []staleness.Transition `json:"transitions,omitempty"`
}

// BatchResult holds one outcome per requested id, in request order.
type BatchResult struct {
	Outcomes []Outcome `json:"outcomes"`
	Applied  int       `json:"applied"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
}

func (r *BatchResult) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case OutcomeApplied, OutcomeDiscarded:
		r.Applied++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}

// BatchApply applies ids in order. Each id takes the project lock on its
// own and is re-validated immediately before its attempt, so an earlier id
// can make a later one stale. Failures are isolated: ids that were rejected
// by gating are skipped, ids whose write failed are failed, and neither
// undoes ids already applied.
func (c *Coordinator) BatchApply(ctx context.Context, ids []string) *BatchResult {
	start := time.Now()
	res := &BatchResult{Outcomes: make([]Outcome, 0, len(ids))}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			res.add(failure(id, errors.ErrCanceled))
			continue
		}
		ar, err := c.Apply(ctx, id)
		if err != nil {
			res.add(classifyApply(id, err))
			continue
		}
		res.add(Outcome{ProposalID: id, Status: OutcomeApplied, Transitions: ar.Transitions})
	}

	c.metrics.Operation("batch_apply", "ok", time.Since(start))
	c.log(ctx).Info().
		Int("requested", len(ids)).
		Int("applied", res.Applied).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("Batch apply finished")
	return res
}

// BatchDiscard discards ids independently. Missing ids fail; ids that are
// already terminal are skipped.
func (c *Coordinator) BatchDiscard(ctx context.Context, ids []string) *BatchResult {
	start := time.Now()
	res := &BatchResult{Outcomes: make([]Outcome, 0, len(ids))}

	for _, id := range ids {
		dr, err := c.Discard(ctx, id)
		switch {
		case err == nil:
			res.add(Outcome{ProposalID: id, Status: OutcomeDiscarded, Transitions: dr.Transitions})
		case errors.IsInvalidState(err):
			res.add(skip(id, err))
		default:
			res.add(failure(id, err))
		}
	}

	c.metrics.Operation("batch_discard", "ok", time.Since(start))
	return res
}

// classifyApply maps an apply error to an outcome. Gating rejections are
// skips; anything that went wrong while writing is a failure.
func classifyApply(id string, err error) Outcome {
	switch errors.CodeOf(err) {
	case errors.CodeNotFound, errors.CodeInvalidState, errors.CodeStale, errors.CodeConflict:
		return skip(id, err)
	default:
		return failure(id, err)
	}
}

func skip(id string, err error) Outcome {
	return Outcome{ProposalID: id, Status: OutcomeSkipped, Reason: errors.CodeOf(err), Message: err.Error()}
}

func failure(id string, err error) Outcome {
	return Outcome{ProposalID: id, Status: OutcomeFailed, Reason: errors.CodeOf(err), Message: err.Error()}
}
