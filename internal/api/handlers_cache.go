package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/pulseboard/pulseboard/internal/api/respond"
	"github.com/pulseboard/pulseboard/internal/cache"
)

// CacheHandler serves reads over the mirrored workspace data. Responses come
// straight from the local cache; a stale or mid-refresh cache still answers.
type CacheHandler struct {
	svc *cache.Service
	// defaultMaxAge bounds the freshness check when the caller omits maxAge.
	defaultMaxAge time.Duration
}

func NewCacheHandler(svc *cache.Service, defaultMaxAge time.Duration) *CacheHandler {
	if defaultMaxAge <= 0 {
		defaultMaxAge = 30 * time.Minute
	}
	return &CacheHandler{svc: svc, defaultMaxAge: defaultMaxAge}
}

// Projects GET /api/v1/projects
func (h *CacheHandler) Projects(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Projects(r.Context())
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// ProjectsByHealth GET /api/v1/projects/health/{healthColor}
func (h *CacheHandler) ProjectsByHealth(w http.ResponseWriter, r *http.Request) {
	color := strings.ToLower(mux.Vars(r)["healthColor"])
	switch color {
	case "red", "yellow", "green":
	default:
		respond.WriteBadRequest(w, "invalid health color, must be one of: red, yellow, green")
		return
	}
	out, err := h.svc.ProjectsByHealth(r.Context(), color)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// ProjectStatistics GET /api/v1/projects/statistics
func (h *CacheHandler) ProjectStatistics(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ProjectStatistics(r.Context())
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// Tasks GET /api/v1/tasks
func (h *CacheHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Tasks(r.Context(), cache.TaskFilter{})
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// FilterTasks GET /api/v1/tasks/filter?status=&priority=&assignee=
func (h *CacheHandler) FilterTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := cache.TaskFilter{
		Status:   q.Get("status"),
		Priority: q.Get("priority"),
		Assignee: q.Get("assignee"),
	}
	out, err := h.svc.Tasks(r.Context(), f)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// Todos GET /api/v1/todos?status=
func (h *CacheHandler) Todos(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.TodosByMember(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// MemberTodos GET /api/v1/todos/member/{memberName}?status=
func (h *CacheHandler) MemberTodos(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["memberName"]
	out, err := h.svc.MemberTodos(r.Context(), name, r.URL.Query().Get("status"))
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// OverdueTodos GET /api/v1/todos/overdue
func (h *CacheHandler) OverdueTodos(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.OverdueTodos(r.Context())
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// TodoStatistics GET /api/v1/todos/statistics
func (h *CacheHandler) TodoStatistics(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.TodoStatistics(r.Context())
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// ActiveTodos GET /api/v1/todos/active
func (h *CacheHandler) ActiveTodos(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ActiveTodos(r.Context())
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// Members GET /api/v1/members
func (h *CacheHandler) Members(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Members(r.Context())
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// Employees GET /api/v1/employees
func (h *CacheHandler) Employees(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.EmployeesWithProjects(r.Context())
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// ListStatus GET /api/v1/cache/status
func (h *CacheHandler) ListStatus(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListStatus(r.Context())
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"caches": out})
}

// Status GET /api/v1/cache/status/{cacheType}
func (h *CacheHandler) Status(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Status(r.Context(), mux.Vars(r)["cacheType"])
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// Fresh GET /api/v1/cache/fresh/{cacheType}?maxAge=
func (h *CacheHandler) Fresh(w http.ResponseWriter, r *http.Request) {
	maxAge := h.defaultMaxAge
	if s := r.URL.Query().Get("maxAge"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			respond.WriteBadRequest(w, "maxAge must be a positive duration, e.g. 30m")
			return
		}
		maxAge = d
	}
	cacheType := mux.Vars(r)["cacheType"]
	fresh, err := h.svc.Fresh(r.Context(), cacheType, maxAge)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"cacheType": cacheType,
		"fresh":     fresh,
		"maxAge":    maxAge.String(),
	})
}
