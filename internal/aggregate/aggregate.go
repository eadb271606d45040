// Package aggregate recomputes per-(person, day) activity summaries from the
// event ledger.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/model"
	"github.com/pulseboard/pulseboard/internal/store"
)

type Aggregator struct {
	store store.Store
	log   zerolog.Logger
}

func New(st store.Store, log zerolog.Logger) *Aggregator {
	return &Aggregator{store: st, log: log}
}

// Aggregate recounts both event kinds in the half-open UTC window
// [day 00:00, day+1 00:00) and upserts the summary. Idempotent; a day with no
// events still writes an all-zero row.
func (a *Aggregator) Aggregate(ctx context.Context, personID int64, day time.Time) (*model.DailySummary, error) {
	d := model.DayOf(day)
	conversations, tasks, err := a.store.Activities().CountInRange(ctx, personID, d, model.NextDay(d))
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	return a.store.Summaries().Upsert(ctx, &model.DailySummary{
		PersonID:       personID,
		Day:            d,
		Conversations:  conversations,
		TasksCompleted: tasks,
		Score:          model.ComputeScore(conversations, tasks),
	})
}

// BulkAggregate recomputes the inclusive day range for every known person.
// Per-(person, day) failures are logged and skipped; the count of successful
// writes is returned. Cancellation is honored between units.
func (a *Aggregator) BulkAggregate(ctx context.Context, startDay, endDay time.Time) (int, error) {
	from := model.DayOf(startDay)
	to := model.DayOf(endDay)
	if to.Before(from) {
		return 0, fmt.Errorf("%w: end day %s before start day %s",
			model.ErrValidation, model.FormatDay(to), model.FormatDay(from))
	}

	ids, err := a.store.Persons().ListIDs(ctx)
	if err != nil {
		return 0, err
	}

	written := 0
	for day := from; !day.After(to); day = model.NextDay(day) {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return written, err
			}
			if _, err := a.Aggregate(ctx, id, day); err != nil {
				a.log.Error().Err(err).
					Int64("person_id", id).
					Str("day", model.FormatDay(day)).
					Msg("aggregate failed for day")
				continue
			}
			written++
		}
	}
	return written, nil
}
