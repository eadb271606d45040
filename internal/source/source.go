// Package source defines the typed contract with the upstream workspace API.
// Records arrive already normalized: raw page/property extraction belongs to the
// upstream service, not this layer.
package source

import (
	"context"
	"time"
)

// Person identifies a workspace member referenced by an activity record.
type Person struct {
	ExternalID string  `json:"externalId"`
	Username   string  `json:"username"`
	AvatarURL  *string `json:"avatarUrl,omitempty"`
	Email      *string `json:"email,omitempty"`
	TelegramID *string `json:"telegramId,omitempty"`
}

// Conversation is one workspace conversation event. Syncing produces one
// ledger row per attendee.
type Conversation struct {
	ExternalID string                 `json:"externalId"`
	Title      string                 `json:"title"`
	OccurredAt time.Time              `json:"occurredAt"`
	Attendees  []Person               `json:"attendees"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// CompletedTask is a kanban card that reached its done state.
type CompletedTask struct {
	ExternalID       string                 `json:"externalId"`
	Title            string                 `json:"title"`
	ProjectName      *string                `json:"projectName,omitempty"`
	CompletedAt      time.Time              `json:"completedAt"`
	LastStatusChange *time.Time             `json:"lastStatusChange,omitempty"`
	Assignee         Person                 `json:"assignee"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Project mirrors one row of the workspace projects board.
type Project struct {
	PageID        string     `json:"pageId"`
	Name          string     `json:"name"`
	HealthStatus  string     `json:"healthStatus"`
	HealthColor   string     `json:"healthColor"`
	Status        string     `json:"status"`
	Priority      string     `json:"priority"`
	PriorityColor string     `json:"priorityColor"`
	Assignees     []string   `json:"assignees"`
	TaskCount     int        `json:"taskCount"`
	URL           string     `json:"url"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
	EditedAt      *time.Time `json:"editedAt,omitempty"`
}

// Task mirrors one kanban card regardless of state.
type Task struct {
	PageID      string     `json:"pageId"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	Effort      string     `json:"effort"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Types       []string   `json:"types"`
	Assignees   []string   `json:"assignees"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	EditedAt    *time.Time `json:"editedAt,omitempty"`
}

// Todo is one personal board item. The same todo may appear on several member
// boards; the refresher dedupes by TodoID before storing.
type Todo struct {
	TodoID     string     `json:"todoId"`
	MemberName string     `json:"memberName"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	DoneAt     *time.Time `json:"doneAt,omitempty"`
	Overdue    bool       `json:"overdue"`
	ProjectIDs []string   `json:"projectIds"`
	URL        string     `json:"url"`
}

// Member is one row of the team roster board.
type Member struct {
	Name       string     `json:"name"`
	Position   string     `json:"position"`
	Status     string     `json:"status"`
	TelegramID string     `json:"telegramId,omitempty"`
	StartDate  *time.Time `json:"startDate,omitempty"`
}

// Provider fetches full snapshots from the workspace API. Every method walks
// upstream pagination to completion and honors ctx between pages.
type Provider interface {
	FetchProjects(ctx context.Context) ([]Project, error)
	FetchTasks(ctx context.Context) ([]Task, error)
	FetchTodos(ctx context.Context) ([]Todo, error)
	FetchMembers(ctx context.Context) ([]Member, error)
	FetchConversations(ctx context.Context) ([]Conversation, error)
	FetchCompletedTasks(ctx context.Context) ([]CompletedTask, error)
}

// Pinger is implemented by providers that can cheaply verify reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
