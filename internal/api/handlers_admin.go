package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pulseboard/pulseboard/internal/aggregate"
	"github.com/pulseboard/pulseboard/internal/api/respond"
	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/jobs"
	"github.com/pulseboard/pulseboard/internal/model"
	activitysync "github.com/pulseboard/pulseboard/internal/sync"
)

// AdminHandler exposes the maintenance surface: manual refreshes, activity
// sync, summary backfills and lock recovery.
type AdminHandler struct {
	refresher *cache.Refresher
	syncer    *activitysync.Syncer
	agg       *aggregate.Aggregator
	recorder  jobs.Recorder
}

func NewAdminHandler(refresher *cache.Refresher, syncer *activitysync.Syncer, agg *aggregate.Aggregator, recorder jobs.Recorder) *AdminHandler {
	return &AdminHandler{refresher: refresher, syncer: syncer, agg: agg, recorder: recorder}
}

// TriggerRefresh POST /api/v1/cache/refresh/{cacheType}
// Runs the guarded refresh protocol inline and reports its outcome. A lost
// lock race is a normal outcome (status "skipped"), not an error.
func (h *AdminHandler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.refresher.Refresh(r.Context(), mux.Vars(r)["cacheType"])
	if err != nil {
		if res != nil {
			// The protocol ran and failed; keep the result shape so callers
			// still see records and duration.
			respond.WriteJSON(w, http.StatusInternalServerError, res)
			return
		}
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, res)
}

// ForceUnlock POST /api/v1/cache/unlock/{cacheType}
// Clears a stuck is_updating flag left behind by a crashed refresh.
func (h *AdminHandler) ForceUnlock(w http.ResponseWriter, r *http.Request) {
	if err := h.refresher.ForceUnlock(r.Context(), mux.Vars(r)["cacheType"]); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncActivities POST /api/v1/activities/sync
// Runs one unguarded sync pass. The scheduled "activities" refresh is the
// guarded equivalent plus a year-to-date aggregation.
func (h *AdminHandler) SyncActivities(w http.ResponseWriter, r *http.Request) {
	stats, err := h.syncer.Run(r.Context())
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, stats)
}

// Aggregate POST /api/v1/activities/aggregate?from=&to=
// Recomputes summaries for every person across an inclusive day range.
func (h *AdminHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fromStr := q.Get("from")
	if fromStr == "" {
		respond.WriteBadRequest(w, "from is required (YYYY-MM-DD)")
		return
	}
	from, err := model.ParseDay(fromStr)
	if err != nil {
		respond.WriteBadRequest(w, "from must be YYYY-MM-DD")
		return
	}
	to := model.DayOf(time.Now().UTC())
	if s := q.Get("to"); s != "" {
		to, err = model.ParseDay(s)
		if err != nil {
			respond.WriteBadRequest(w, "to must be YYYY-MM-DD")
			return
		}
	}
	if to.Before(from) {
		respond.WriteBadRequest(w, "to must not precede from")
		return
	}

	written, err := h.agg.BulkAggregate(r.Context(), from, to)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"summariesWritten": written,
		"from":             model.FormatDay(from),
		"to":               model.FormatDay(to),
	})
}

// AggregateMonth POST /api/v1/activities/aggregate-month?year=&month=
// Backfills one calendar month, clamped to today. Defaults to the current
// month so heatmaps always have complete rows.
func (h *AdminHandler) AggregateMonth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	today := model.DayOf(time.Now().UTC())

	year, err := queryInt(q.Get("year"), today.Year())
	if err != nil || year < 2000 || year > 9999 {
		respond.WriteBadRequest(w, "year must be a four-digit year")
		return
	}
	month, err := queryInt(q.Get("month"), int(today.Month()))
	if err != nil || month < 1 || month > 12 {
		respond.WriteBadRequest(w, "month must be between 1 and 12")
		return
	}

	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, -1)
	if to.After(today) {
		to = today
	}
	if to.Before(from) {
		respond.WriteBadRequest(w, "month is entirely in the future")
		return
	}

	written, err := h.agg.BulkAggregate(r.Context(), from, to)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"summariesWritten": written,
		"from":             model.FormatDay(from),
		"to":               model.FormatDay(to),
	})
}

// LastJobRun GET /api/v1/admin/jobs/{job}
// Reads the most recent scheduled run outcome from the job result backend.
func (h *AdminHandler) LastJobRun(w http.ResponseWriter, r *http.Request) {
	rec, err := h.recorder.LastRun(r.Context(), mux.Vars(r)["job"])
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, rec)
}
