package api

import (
	"net/http"
	"time"

	"github.com/pulseboard/pulseboard/internal/api/respond"
	"github.com/pulseboard/pulseboard/internal/model"
	"github.com/pulseboard/pulseboard/internal/stats"
)

// StatsHandler serves the read-side activity statistics.
type StatsHandler struct {
	engine *stats.Engine
}

func NewStatsHandler(engine *stats.Engine) *StatsHandler { return &StatsHandler{engine: engine} }

// Timeline GET /api/v1/activities/person/{personId}?from=&to=&kind=&offset=&limit=
func (h *StatsHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := personIDVar(r)
	if !ok {
		respond.WriteBadRequest(w, "personId must be an integer")
		return
	}
	q := r.URL.Query()
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		respond.WriteBadRequest(w, "offset must be a non-negative integer")
		return
	}
	limit, err := queryInt(q.Get("limit"), 20)
	if err != nil || limit < 1 || limit > 1000 {
		respond.WriteBadRequest(w, "limit must be between 1 and 1000")
		return
	}
	from, err := queryTime(q.Get("from"))
	if err != nil {
		respond.WriteBadRequest(w, "from must be RFC3339 or YYYY-MM-DD")
		return
	}
	to, err := queryTime(q.Get("to"))
	if err != nil {
		respond.WriteBadRequest(w, "to must be RFC3339 or YYYY-MM-DD")
		return
	}
	kind := q.Get("kind")
	if kind != "" && kind != model.KindConversation && kind != model.KindTask {
		respond.WriteBadRequest(w, "kind must be conversation or task")
		return
	}

	page, err := h.engine.Timeline(r.Context(), model.TimelineRequest{
		PersonID: id,
		From:     from,
		To:       to,
		Kind:     kind,
		Offset:   offset,
		Limit:    limit,
	})
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, page)
}

// PeriodStats GET /api/v1/activities/person/{personId}/stats?period=&from=&to=
// An explicit from+to pair overrides the named period.
func (h *StatsHandler) PeriodStats(w http.ResponseWriter, r *http.Request) {
	id, ok := personIDVar(r)
	if !ok {
		respond.WriteBadRequest(w, "personId must be an integer")
		return
	}
	q := r.URL.Query()
	period, err := stats.ParsePeriod(q.Get("period"))
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	from, err := queryTime(q.Get("from"))
	if err != nil {
		respond.WriteBadRequest(w, "from must be RFC3339 or YYYY-MM-DD")
		return
	}
	to, err := queryTime(q.Get("to"))
	if err != nil {
		respond.WriteBadRequest(w, "to must be RFC3339 or YYYY-MM-DD")
		return
	}

	out, err := h.engine.PeriodStats(r.Context(), id, period, from, to)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// Heatmap GET /api/v1/activities/person/{personId}/heatmap?days=
func (h *StatsHandler) Heatmap(w http.ResponseWriter, r *http.Request) {
	id, ok := personIDVar(r)
	if !ok {
		respond.WriteBadRequest(w, "personId must be an integer")
		return
	}
	days, err := queryInt(r.URL.Query().Get("days"), 365)
	if err != nil || days < 1 || days > 730 {
		respond.WriteBadRequest(w, "days must be between 1 and 730")
		return
	}

	out, err := h.engine.Heatmap(r.Context(), id, days)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// Streak GET /api/v1/activities/person/{personId}/streak
func (h *StatsHandler) Streak(w http.ResponseWriter, r *http.Request) {
	id, ok := personIDVar(r)
	if !ok {
		respond.WriteBadRequest(w, "personId must be an integer")
		return
	}
	out, err := h.engine.Streak(r.Context(), id)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// Leaderboard GET /api/v1/activities/leaderboard?period=&limit=
func (h *StatsHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, err := stats.ParsePeriod(q.Get("period"))
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	limit, err := queryInt(q.Get("limit"), 10)
	if err != nil || limit < 1 || limit > 100 {
		respond.WriteBadRequest(w, "limit must be between 1 and 100")
		return
	}

	out, err := h.engine.Leaderboard(r.Context(), period, limit)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// queryTime parses an optional timestamp query parameter, accepting RFC3339
// or a bare day.
func queryTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
