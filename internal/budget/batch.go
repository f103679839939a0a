package budget

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Outcome of one batch item.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// BatchOptions override the engine defaults for one batch.
type BatchOptions struct {
	MaxConcurrent int           `json:"max_concurrent,omitempty"`
	StopOnFailure bool          `json:"stop_on_failure,omitempty"`
	ChunkDelay    time.Duration `json:"chunk_delay,omitempty"`
}

// BatchItem is the per-unit outcome.
type BatchItem struct {
	UnitID  string  `json:"unit_id"`
	Outcome Outcome `json:"outcome"`
	Result  *Result `json:"result,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// BatchResult aggregates a batch run.
type BatchResult struct {
	BatchID    string        `json:"batch_id"`
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Items      []BatchItem   `json:"items"`
	Duration   time.Duration `json:"duration"`
}

// outcomeOf maps a result to a batch outcome. Anything stopped before the
// platform write counts as skipped.
func outcomeOf(r *Result) Outcome {
	switch r.Status {
	case StatusApplied:
		return OutcomeSuccess
	case StatusBlocked, StatusRejected:
		return OutcomeSkipped
	default:
		return OutcomeFailed
	}
}

// ApplyBatch applies requests in chunks of MaxConcurrent, pausing between chunks.
// With StopOnFailure, the chunks after a failed item are not started and their items are skipped.
func (e *Engine) ApplyBatch(ctx context.Context, reqs []Request, opts BatchOptions) BatchResult {
	start := e.now()
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = e.cfg.MaxConcurrent
	}
	if opts.ChunkDelay <= 0 {
		opts.ChunkDelay = e.cfg.ChunkDelay
	}

	br := BatchResult{BatchID: uuid.NewString(), Total: len(reqs), Items: make([]BatchItem, len(reqs))}
	stopped := false
	for lo := 0; lo < len(reqs); lo += opts.MaxConcurrent {
		hi := min(lo+opts.MaxConcurrent, len(reqs))

		if stopped || ctx.Err() != nil {
			reason := "batch stopped after an earlier failure"
			if !stopped {
				reason = "batch cancelled: " + ctx.Err().Error()
			}
			for i := lo; i < hi; i++ {
				br.Items[i] = BatchItem{UnitID: reqs[i].UnitID, Outcome: OutcomeSkipped, Error: reason}
			}
			continue
		}

		if lo > 0 && opts.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(opts.ChunkDelay):
			}
		}

		var g errgroup.Group
		for i := lo; i < hi; i++ {
			i := i
			req := reqs[i]
			req.Context.BatchID = br.BatchID
			g.Go(func() error {
				r := e.ApplyBudgetAdjustment(ctx, req)
				br.Items[i] = BatchItem{UnitID: req.UnitID, Outcome: outcomeOf(&r), Result: &r, Error: r.Error}
				return nil
			})
		}
		_ = g.Wait()

		for i := lo; i < hi; i++ {
			if br.Items[i].Outcome == OutcomeFailed && opts.StopOnFailure {
				stopped = true
			}
		}
	}

	for _, it := range br.Items {
		switch it.Outcome {
		case OutcomeSuccess:
			br.Successful++
		case OutcomeFailed:
			br.Failed++
		default:
			br.Skipped++
		}
	}
	br.Duration = e.now().Sub(start)
	e.log.Info().
		Str("batch_id", br.BatchID).
		Int("total", br.Total).
		Int("successful", br.Successful).
		Int("failed", br.Failed).
		Int("skipped", br.Skipped).
		Msg("budget batch complete")
	return br
}
