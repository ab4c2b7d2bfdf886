package engine

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"degasline/internal/degassing"
	"degasline/internal/events"
)

const defaultParallelism = 4

// FleetItem is the outcome for one batch of a fleet assessment. Error is set
// instead of Comparison when a model does not recognize the batch inputs.
type FleetItem struct {
	BatchID    string                `json:"batch_id"`
	Comparison *degassing.Comparison `json:"comparison,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// AssessRecent compares the most recently roasted batches concurrently.
// Results keep the roast-date order of the batches. Storage failures abort
// the run; unrecognized inputs are reported per batch.
func (e Engine) AssessRecent(ctx context.Context, limit int, opts Options, actorID string) ([]FleetItem, error) {
	begin := time.Now()
	if limit <= 0 {
		limit = e.Config.Engine.RecentLimit
	}
	batches, err := e.Repo.RecentBatches(ctx, limit)
	if err != nil {
		return nil, err
	}
	parallelism := e.Config.Engine.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}

	items := make([]FleetItem, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, b := range batches {
		g.Go(func() error {
			items[i].BatchID = b.ID
			cmp, err := e.compareBatch(gctx, b, opts, actorID)
			if errors.Is(err, degassing.ErrUnrecognized) {
				items[i].Error = err.Error()
				return nil
			}
			if err != nil {
				return err
			}
			items[i].Comparison = &cmp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed, blocked := 0, 0
	for _, it := range items {
		if it.Comparison == nil {
			failed++
			continue
		}
		for _, adv := range it.Comparison.Advices {
			if adv.Blocked {
				blocked++
				break
			}
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.events().Append(ctx, tx, events.FleetAssessed, "fleet", "", actorID, events.EventPayload{
		"batches": len(items),
		"failed":  failed,
		"blocked": blocked,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.Logger.Info().Int("batches", len(items)).Int("failed", failed).Int("blocked", blocked).
		Dur("took", time.Since(begin)).Msg("fleet assessed")
	return items, nil
}
