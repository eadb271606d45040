package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pulseboard/pulseboard/internal/model"
	"github.com/pulseboard/pulseboard/internal/store"
)

// todoStatusDone is the terminal board status; everything else counts as
// active work.
const todoStatusDone = "Done"

// ProjectList is a full snapshot read of the project cache.
type ProjectList struct {
	Total    int                    `json:"total"`
	Projects []*model.CachedProject `json:"projects"`
}

// ProjectHealthSummary counts projects per health color.
type ProjectHealthSummary struct {
	Red    int `json:"red"`
	Yellow int `json:"yellow"`
	Green  int `json:"green"`
	NotSet int `json:"notSet"`
}

type ProjectStats struct {
	TotalProjects int                  `json:"totalProjects"`
	Health        ProjectHealthSummary `json:"byHealth"`
	ByAssignee    map[string]int       `json:"byAssignee"`
}

type TaskList struct {
	Total int                 `json:"total"`
	Tasks []*model.CachedTask `json:"tasks"`
}

// TaskFilter narrows task reads; empty fields match everything.
type TaskFilter struct {
	Status   string
	Priority string
	Assignee string
}

// MemberTodos is one member's board slice with per-status counts.
type MemberTodos struct {
	Member       *model.CachedMember `json:"member"`
	TotalTodos   int                 `json:"totalTodos"`
	ByStatus     map[string]int      `json:"byStatus"`
	OverdueCount int                 `json:"overdueCount"`
	Todos        []*model.CachedTodo `json:"todos"`
}

// TodoBoard groups cached todos under every rostered member, including
// members with empty boards.
type TodoBoard struct {
	TotalMembers     int            `json:"totalMembers"`
	MembersWithTodos int            `json:"membersWithTodos"`
	Members          []*MemberTodos `json:"members"`
}

type OverdueTodo struct {
	MemberName     string            `json:"memberName"`
	MemberPosition string            `json:"memberPosition,omitempty"`
	Todo           *model.CachedTodo `json:"todo"`
}

type OverdueList struct {
	Total int            `json:"total"`
	Todos []*OverdueTodo `json:"todos"`
}

type TodoStats struct {
	TotalMembers        int            `json:"totalMembers"`
	MembersWithTodos    int            `json:"membersWithTodos"`
	MembersWithoutTodos int            `json:"membersWithoutTodos"`
	TotalTodos          int            `json:"totalTodos"`
	ByStatus            map[string]int `json:"byStatus"`
	TotalOverdue        int            `json:"totalOverdue"`
	OverdueByMember     map[string]int `json:"overdueByMember"`
}

type MemberList struct {
	Total   int                   `json:"total"`
	Members []*model.CachedMember `json:"members"`
}

// EmployeeProjects is the reverse view: one assignee and every project
// carrying their name.
type EmployeeProjects struct {
	Name          string                 `json:"name"`
	TotalProjects int                    `json:"totalProjects"`
	Health        ProjectHealthSummary   `json:"byHealth"`
	Projects      []*model.CachedProject `json:"projects"`
}

type EmployeeList struct {
	Total     int                 `json:"total"`
	Employees []*EmployeeProjects `json:"employees"`
}

// CacheStatus reports refresh state for one cache type. Exists is false until
// the first refresh attempt touches the type.
type CacheStatus struct {
	CacheType           string     `json:"cacheType"`
	Exists              bool       `json:"exists"`
	LastUpdated         *time.Time `json:"lastUpdated,omitempty"`
	IsUpdating          bool       `json:"isUpdating"`
	TotalRecords        int        `json:"totalRecords"`
	LastDurationSeconds float64    `json:"lastDurationSeconds"`
	LastError           *string    `json:"lastError,omitempty"`
}

// Service answers reads from the cache mirrors. It never triggers a refresh
// and never blocks on one.
type Service struct {
	store store.Store
	now   func() time.Time
}

func NewService(st store.Store) *Service { return &Service{store: st, now: time.Now} }

// NewServiceWithClock pins the freshness clock for tests.
func NewServiceWithClock(st store.Store, now func() time.Time) *Service {
	return &Service{store: st, now: now}
}

func (s *Service) Projects(ctx context.Context) (*ProjectList, error) {
	projects, err := s.store.Caches().ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	return &ProjectList{Total: len(projects), Projects: projects}, nil
}

func (s *Service) ProjectsByHealth(ctx context.Context, healthColor string) (*ProjectList, error) {
	projects, err := s.store.Caches().ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	filtered := make([]*model.CachedProject, 0, len(projects))
	for _, p := range projects {
		if p.HealthColor == healthColor {
			filtered = append(filtered, p)
		}
	}
	return &ProjectList{Total: len(filtered), Projects: filtered}, nil
}

func (s *Service) ProjectStatistics(ctx context.Context) (*ProjectStats, error) {
	projects, err := s.store.Caches().ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	stats := &ProjectStats{
		TotalProjects: len(projects),
		ByAssignee:    make(map[string]int),
	}
	for _, p := range projects {
		bumpHealth(&stats.Health, p.HealthColor)
		for _, a := range p.Assignees {
			stats.ByAssignee[a]++
		}
	}
	return stats, nil
}

func (s *Service) Tasks(ctx context.Context, f TaskFilter) (*TaskList, error) {
	tasks, err := s.store.Caches().ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	filtered := make([]*model.CachedTask, 0, len(tasks))
	for _, t := range tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Priority != "" && t.Priority != f.Priority {
			continue
		}
		if f.Assignee != "" && !containsFold(t.Assignees, f.Assignee) {
			continue
		}
		filtered = append(filtered, t)
	}
	return &TaskList{Total: len(filtered), Tasks: filtered}, nil
}

// TodosByMember returns every member's board, optionally narrowed to one
// status. Members without matching todos still appear with an empty board.
func (s *Service) TodosByMember(ctx context.Context, status string) (*TodoBoard, error) {
	return s.board(ctx, func(td *model.CachedTodo) bool {
		return status == "" || td.Status == status
	})
}

// ActiveTodos returns every board narrowed to not-yet-done items.
func (s *Service) ActiveTodos(ctx context.Context) (*TodoBoard, error) {
	return s.board(ctx, func(td *model.CachedTodo) bool {
		return td.Status != todoStatusDone
	})
}

// MemberTodos returns one member's board by display name, case-insensitive.
func (s *Service) MemberTodos(ctx context.Context, memberName, status string) (*MemberTodos, error) {
	board, err := s.TodosByMember(ctx, status)
	if err != nil {
		return nil, err
	}
	for _, m := range board.Members {
		if strings.EqualFold(m.Member.Name, memberName) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: member %q", model.ErrNotFound, memberName)
}

func (s *Service) OverdueTodos(ctx context.Context) (*OverdueList, error) {
	todos, err := s.store.Caches().ListTodos(ctx)
	if err != nil {
		return nil, err
	}
	members, err := s.store.Caches().ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	positions := make(map[string]string, len(members))
	for _, m := range members {
		positions[m.Name] = m.Position
	}

	out := &OverdueList{Todos: make([]*OverdueTodo, 0)}
	for _, td := range todos {
		if !td.Overdue {
			continue
		}
		out.Todos = append(out.Todos, &OverdueTodo{
			MemberName:     td.MemberName,
			MemberPosition: positions[td.MemberName],
			Todo:           td,
		})
	}
	out.Total = len(out.Todos)
	return out, nil
}

func (s *Service) TodoStatistics(ctx context.Context) (*TodoStats, error) {
	board, err := s.TodosByMember(ctx, "")
	if err != nil {
		return nil, err
	}
	stats := &TodoStats{
		TotalMembers:     board.TotalMembers,
		MembersWithTodos: board.MembersWithTodos,
		ByStatus:         make(map[string]int),
		OverdueByMember:  make(map[string]int),
	}
	for _, m := range board.Members {
		stats.TotalTodos += m.TotalTodos
		for status, n := range m.ByStatus {
			stats.ByStatus[status] += n
		}
		if m.OverdueCount > 0 {
			stats.OverdueByMember[m.Member.Name] = m.OverdueCount
			stats.TotalOverdue += m.OverdueCount
		}
		if m.TotalTodos == 0 {
			stats.MembersWithoutTodos++
		}
	}
	return stats, nil
}

func (s *Service) Members(ctx context.Context) (*MemberList, error) {
	members, err := s.store.Caches().ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	return &MemberList{Total: len(members), Members: members}, nil
}

// EmployeesWithProjects inverts the project cache into a per-assignee view,
// sorted by employee name.
func (s *Service) EmployeesWithProjects(ctx context.Context) (*EmployeeList, error) {
	projects, err := s.store.Caches().ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*EmployeeProjects)
	for _, p := range projects {
		for _, a := range p.Assignees {
			emp := byName[a]
			if emp == nil {
				emp = &EmployeeProjects{Name: a, Projects: make([]*model.CachedProject, 0, 1)}
				byName[a] = emp
			}
			emp.Projects = append(emp.Projects, p)
			emp.TotalProjects++
			bumpHealth(&emp.Health, p.HealthColor)
		}
	}

	out := &EmployeeList{Employees: make([]*EmployeeProjects, 0, len(byName))}
	for _, emp := range byName {
		out.Employees = append(out.Employees, emp)
	}
	sort.Slice(out.Employees, func(i, j int) bool {
		return out.Employees[i].Name < out.Employees[j].Name
	})
	out.Total = len(out.Employees)
	return out, nil
}

// Status reports refresh metadata for one cache type; missing metadata is not
// an error, just Exists=false.
func (s *Service) Status(ctx context.Context, cacheType string) (*CacheStatus, error) {
	if !model.ValidCacheType(cacheType) {
		return nil, fmt.Errorf("%w: unknown cache type %q", model.ErrValidation, cacheType)
	}
	md, err := s.store.Caches().GetMetadata(ctx, cacheType)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return &CacheStatus{CacheType: cacheType}, nil
		}
		return nil, err
	}
	return statusFromMetadata(md), nil
}

// ListStatus reports every known cache type, initialized or not.
func (s *Service) ListStatus(ctx context.Context) ([]*CacheStatus, error) {
	rows, err := s.store.Caches().ListMetadata(ctx)
	if err != nil {
		return nil, err
	}
	byType := make(map[string]*model.CacheMetadata, len(rows))
	for _, md := range rows {
		byType[md.CacheType] = md
	}
	out := make([]*CacheStatus, 0, len(model.CacheTypes))
	for _, ct := range model.CacheTypes {
		if md, ok := byType[ct]; ok {
			out = append(out, statusFromMetadata(md))
			continue
		}
		out = append(out, &CacheStatus{CacheType: ct})
	}
	return out, nil
}

// Fresh reports whether cacheType completed a successful refresh within
// maxAge. A failed last refresh is never fresh even though its timestamp is
// recent.
func (s *Service) Fresh(ctx context.Context, cacheType string, maxAge time.Duration) (bool, error) {
	st, err := s.Status(ctx, cacheType)
	if err != nil {
		return false, err
	}
	if !st.Exists || st.LastUpdated == nil || st.LastError != nil {
		return false, nil
	}
	return s.now().Sub(*st.LastUpdated) <= maxAge, nil
}

func (s *Service) board(ctx context.Context, keep func(*model.CachedTodo) bool) (*TodoBoard, error) {
	todos, err := s.store.Caches().ListTodos(ctx)
	if err != nil {
		return nil, err
	}
	members, err := s.store.Caches().ListMembers(ctx)
	if err != nil {
		return nil, err
	}

	byMember := make(map[string][]*model.CachedTodo)
	for _, td := range todos {
		if !keep(td) {
			continue
		}
		byMember[td.MemberName] = append(byMember[td.MemberName], td)
	}

	board := &TodoBoard{Members: make([]*MemberTodos, 0, len(members))}
	for _, m := range members {
		mt := &MemberTodos{
			Member:   m,
			ByStatus: make(map[string]int),
			Todos:    byMember[m.Name],
		}
		if mt.Todos == nil {
			mt.Todos = make([]*model.CachedTodo, 0)
		}
		for _, td := range mt.Todos {
			status := td.Status
			if status == "" {
				status = "No Status"
			}
			mt.ByStatus[status]++
			if td.Overdue {
				mt.OverdueCount++
			}
		}
		mt.TotalTodos = len(mt.Todos)
		if mt.TotalTodos > 0 {
			board.MembersWithTodos++
		}
		board.Members = append(board.Members, mt)
	}
	board.TotalMembers = len(board.Members)
	return board, nil
}

func statusFromMetadata(md *model.CacheMetadata) *CacheStatus {
	return &CacheStatus{
		CacheType:           md.CacheType,
		Exists:              true,
		LastUpdated:         md.LastUpdated,
		IsUpdating:          md.IsUpdating,
		TotalRecords:        md.TotalRecords,
		LastDurationSeconds: md.LastDurationSeconds,
		LastError:           md.LastError,
	}
}

func bumpHealth(h *ProjectHealthSummary, color string) {
	switch color {
	case "red":
		h.Red++
	case "yellow":
		h.Yellow++
	case "green":
		h.Green++
	default:
		h.NotSet++
	}
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}
