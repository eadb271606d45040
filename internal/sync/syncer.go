// Package sync pulls activity records from the workspace API into the local
// person directory and activity ledger.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/model"
	"github.com/pulseboard/pulseboard/internal/source"
	"github.com/pulseboard/pulseboard/internal/store"
)

// Stats reports the outcome of one sync pass. Counters are per ledger row, so a
// conversation with three attendees contributes three to ConversationsSynced.
type Stats struct {
	RunID               string   `json:"runId"`
	ConversationsSynced int      `json:"conversationsSynced"`
	TasksSynced         int      `json:"tasksSynced"`
	PersonsCreated      int      `json:"personsCreated"`
	PersonsUpdated      int      `json:"personsUpdated"`
	Errors              []string `json:"errors,omitempty"`
	DurationSeconds     float64  `json:"durationSeconds"`
}

// Syncer performs full activity syncs. Individual record failures accumulate in
// Stats.Errors; only a failed snapshot fetch aborts the whole pass.
type Syncer struct {
	store    store.Store
	provider source.Provider
	log      zerolog.Logger
}

func NewSyncer(st store.Store, p source.Provider, log zerolog.Logger) *Syncer {
	return &Syncer{store: st, provider: p, log: log}
}

// Run fetches conversations and completed tasks and upserts them into the ledger.
func (s *Syncer) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()
	stats := &Stats{RunID: uuid.New().String()}

	conversations, err := s.provider.FetchConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}
	for _, c := range conversations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(c.Attendees) == 0 {
			s.log.Warn().Str("external_id", c.ExternalID).Msg("conversation has no attendees, skipping")
			continue
		}
		// One ledger row per attendee.
		for _, att := range c.Attendees {
			person, err := s.resolvePerson(ctx, att, stats)
			if err != nil {
				stats.Errors = append(stats.Errors,
					fmt.Sprintf("conversation %s attendee %s: %v", c.ExternalID, att.ExternalID, err))
				continue
			}
			if _, err := s.store.Activities().UpsertConversation(ctx, &model.Conversation{
				PersonID:   person.ID,
				ExternalID: c.ExternalID,
				Title:      c.Title,
				OccurredAt: c.OccurredAt,
				Metadata:   c.Metadata,
			}); err != nil {
				stats.Errors = append(stats.Errors,
					fmt.Sprintf("conversation %s person %d: %v", c.ExternalID, person.ID, err))
				continue
			}
			stats.ConversationsSynced++
		}
	}

	tasks, err := s.provider.FetchCompletedTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch completed tasks: %w", err)
	}
	for _, tk := range tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if tk.Assignee.ExternalID == "" {
			s.log.Warn().Str("external_id", tk.ExternalID).Msg("task has no assignee, skipping")
			continue
		}
		person, err := s.resolvePerson(ctx, tk.Assignee, stats)
		if err != nil {
			stats.Errors = append(stats.Errors,
				fmt.Sprintf("task %s assignee %s: %v", tk.ExternalID, tk.Assignee.ExternalID, err))
			continue
		}
		if _, err := s.store.Activities().UpsertTask(ctx, &model.TaskCompletion{
			PersonID:         person.ID,
			ExternalID:       tk.ExternalID,
			Title:            tk.Title,
			ProjectName:      tk.ProjectName,
			CompletedAt:      tk.CompletedAt,
			LastStatusChange: tk.LastStatusChange,
			Metadata:         tk.Metadata,
		}); err != nil {
			stats.Errors = append(stats.Errors,
				fmt.Sprintf("task %s person %d: %v", tk.ExternalID, person.ID, err))
			continue
		}
		stats.TasksSynced++
	}

	stats.DurationSeconds = time.Since(start).Seconds()
	s.log.Info().
		Str("run_id", stats.RunID).
		Int("conversations", stats.ConversationsSynced).
		Int("tasks", stats.TasksSynced).
		Int("persons_created", stats.PersonsCreated).
		Int("persons_updated", stats.PersonsUpdated).
		Int("errors", len(stats.Errors)).
		Float64("duration_s", stats.DurationSeconds).
		Msg("activity sync complete")
	return stats, nil
}

// resolvePerson maps an external identity to a local person, creating it on
// first sight and refreshing username/avatar when the source moved on.
func (s *Syncer) resolvePerson(ctx context.Context, rec source.Person, stats *Stats) (*model.Person, error) {
	existing, err := s.store.Persons().GetByExternalID(ctx, rec.ExternalID)
	if errors.Is(err, model.ErrNotFound) {
		created, cerr := s.store.Persons().Create(ctx, &model.Person{
			ExternalID: rec.ExternalID,
			Username:   rec.Username,
			AvatarURL:  rec.AvatarURL,
			Email:      rec.Email,
			TelegramID: rec.TelegramID,
		})
		if cerr != nil {
			// Lost a race with a concurrent sync of the same identity.
			if errors.Is(cerr, model.ErrDuplicateIdentity) {
				return s.store.Persons().GetByExternalID(ctx, rec.ExternalID)
			}
			return nil, cerr
		}
		stats.PersonsCreated++
		return created, nil
	}
	if err != nil {
		return nil, err
	}

	// An absent avatar in the record means no information, not a clear.
	usernameChanged := rec.Username != "" && rec.Username != existing.Username
	avatarChanged := rec.AvatarURL != nil && !equalStringPtr(rec.AvatarURL, existing.AvatarURL)
	if !usernameChanged && !avatarChanged {
		return existing, nil
	}
	upd := model.UpdatePersonRequest{}
	if usernameChanged {
		upd.Username = &rec.Username
	}
	if avatarChanged {
		upd.AvatarURL = rec.AvatarURL
	}
	updated, err := s.store.Persons().Update(ctx, existing.ID, upd)
	if err != nil {
		return nil, err
	}
	stats.PersonsUpdated++
	return updated, nil
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
