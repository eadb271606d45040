package model

import "time"

// Activity kinds stored in the ledger and reported on timelines.
const (
	KindConversation = "conversation"
	KindTask         = "task"
)

// TaskScoreWeight is the score contribution of one completed task.
// A conversation contributes 1.
const TaskScoreWeight = 2

// ComputeScore derives the daily score from raw event counts.
func ComputeScore(conversations, tasks int) int {
	return conversations + TaskScoreWeight*tasks
}

// Person is a tracked workspace member. Created lazily the first time an
// external identity is seen in a synced event.
type Person struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"externalId"`
	Username   string    `json:"username"`
	AvatarURL  *string   `json:"avatarUrl,omitempty"`
	Email      *string   `json:"email,omitempty"`
	TelegramID *string   `json:"telegramId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Conversation is one attendee's participation in a source conversation.
// Multi-attendee conversations produce one row per person, so uniqueness is
// (ExternalID, PersonID).
type Conversation struct {
	ID           int64                  `json:"id"`
	PersonID     int64                  `json:"personId"`
	ExternalID   string                 `json:"externalId"`
	Title        string                 `json:"title"`
	OccurredAt   time.Time              `json:"occurredAt"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	LastSyncedAt time.Time              `json:"lastSyncedAt"`
}

// TaskCompletion records a task reaching its done state. ExternalID is
// globally unique; a task belongs to exactly one person.
type TaskCompletion struct {
	ID               int64                  `json:"id"`
	PersonID         int64                  `json:"personId"`
	ExternalID       string                 `json:"externalId"`
	Title            string                 `json:"title"`
	ProjectName      *string                `json:"projectName,omitempty"`
	CompletedAt      time.Time              `json:"completedAt"`
	LastStatusChange *time.Time             `json:"lastStatusChange,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	LastSyncedAt     time.Time              `json:"lastSyncedAt"`
}

// DailySummary is the per-(person, UTC day) rollup. Score is always derived
// from the counts, never stored independently of them.
type DailySummary struct {
	PersonID       int64     `json:"personId"`
	Day            time.Time `json:"day"`
	Conversations  int       `json:"conversations"`
	TasksCompleted int       `json:"tasksCompleted"`
	Score          int       `json:"score"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// CachedProject mirrors one project row from the workspace source.
type CachedProject struct {
	PageID          string     `json:"pageId"`
	Name            string     `json:"name"`
	HealthStatus    string     `json:"healthStatus"`
	HealthColor     string     `json:"healthColor"`
	Status          string     `json:"status"`
	Priority        string     `json:"priority"`
	PriorityColor   string     `json:"priorityColor"`
	Assignees       []string   `json:"assignees"`
	TaskCount       int        `json:"taskCount"`
	URL             string     `json:"url"`
	SourceCreatedAt *time.Time `json:"sourceCreatedAt,omitempty"`
	SourceEditedAt  *time.Time `json:"sourceEditedAt,omitempty"`
	CachedAt        time.Time  `json:"cachedAt"`
}

// CachedTask mirrors one task row from the workspace source.
type CachedTask struct {
	PageID          string     `json:"pageId"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	Priority        string     `json:"priority"`
	Effort          string     `json:"effort"`
	Description     string     `json:"description"`
	DueDate         *time.Time `json:"dueDate,omitempty"`
	Types           []string   `json:"types"`
	Assignees       []string   `json:"assignees"`
	SourceCreatedAt *time.Time `json:"sourceCreatedAt,omitempty"`
	SourceEditedAt  *time.Time `json:"sourceEditedAt,omitempty"`
	CachedAt        time.Time  `json:"cachedAt"`
}

// CachedMember mirrors one team member row, keyed by display name.
type CachedMember struct {
	Name       string     `json:"name"`
	Position   string     `json:"position"`
	Status     string     `json:"status"`
	TelegramID string     `json:"telegramId,omitempty"`
	StartDate  *time.Time `json:"startDate,omitempty"`
	CachedAt   time.Time  `json:"cachedAt"`
}

// CachedTodo mirrors one personal board item. TodoID is unique across all
// member boards; duplicates are collapsed before the replace.
type CachedTodo struct {
	TodoID     string     `json:"todoId"`
	MemberName string     `json:"memberName"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	DoneAt     *time.Time `json:"doneAt,omitempty"`
	Overdue    bool       `json:"overdue"`
	ProjectIDs []string   `json:"projectIds"`
	URL        string     `json:"url"`
	CachedAt   time.Time  `json:"cachedAt"`
}

// Cache types tracked by CacheMetadata, one row each.
const (
	CacheProjects   = "projects"
	CacheTasks      = "tasks"
	CacheTodos      = "todos"
	CacheActivities = "activities"
)

// CacheTypes lists every refreshable cache type in scheduling order.
var CacheTypes = []string{CacheProjects, CacheTasks, CacheTodos, CacheActivities}

// ValidCacheType reports whether s names a known cache type.
func ValidCacheType(s string) bool {
	for _, t := range CacheTypes {
		if t == s {
			return true
		}
	}
	return false
}

// CacheMetadata tracks refresh state for one cache type. LastUpdated is the
// completion time of the most recent refresh attempt, success or failure.
type CacheMetadata struct {
	CacheType           string     `json:"cacheType"`
	LastUpdated         *time.Time `json:"lastUpdated,omitempty"`
	IsUpdating          bool       `json:"isUpdating"`
	TotalRecords        int        `json:"totalRecords"`
	LastDurationSeconds float64    `json:"lastDurationSeconds"`
	LastError           *string    `json:"lastError,omitempty"`
}

// TimelineItem is one merged activity event on a person's timeline.
type TimelineItem struct {
	Kind        string    `json:"kind"`
	ExternalID  string    `json:"externalId"`
	Title       string    `json:"title"`
	ProjectName *string   `json:"projectName,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// TimelinePage is one offset/limit window over a person's merged timeline.
type TimelinePage struct {
	Total   int             `json:"total"`
	Items   []*TimelineItem `json:"items"`
	HasMore bool            `json:"hasMore"`
}

// LeaderboardEntry is one ranked row. Ties on score are broken by ascending
// person ID so ranks are stable across calls.
type LeaderboardEntry struct {
	Rank           int     `json:"rank"`
	PersonID       int64   `json:"personId"`
	Username       string  `json:"username"`
	AvatarURL      *string `json:"avatarUrl,omitempty"`
	Conversations  int     `json:"conversations"`
	TasksCompleted int     `json:"tasksCompleted"`
	Score          int     `json:"score"`
}

// ListPersonsRequest captures filters used when listing persons.
type ListPersonsRequest struct {
	Search string
	Offset int
	Limit  int
}

// UpdatePersonRequest carries partial person updates; nil fields are left
// unchanged.
type UpdatePersonRequest struct {
	Username   *string `json:"username,omitempty"`
	AvatarURL  *string `json:"avatarUrl,omitempty"`
	Email      *string `json:"email,omitempty"`
	TelegramID *string `json:"telegramId,omitempty"`
}

// TimelineRequest captures filters for the merged timeline. From/To bound
// OccurredAt inclusively when set; Kind narrows to one event kind.
type TimelineRequest struct {
	PersonID int64
	From     *time.Time
	To       *time.Time
	Kind     string
	Offset   int
	Limit    int
}
