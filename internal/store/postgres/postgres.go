package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pulseboard/pulseboard/internal/model"
	"github.com/pulseboard/pulseboard/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a native Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Persons() store.Persons       { return &persons{db: s.db} }
func (s *pgStore) Activities() store.Activities { return &activities{db: s.db} }
func (s *pgStore) Summaries() store.Summaries   { return &summaries{db: s.db} }
func (s *pgStore) Caches() store.Caches         { return &caches{db: s.db} }

// HealthPing implements health.HealthPinger for the Postgres-backed store.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Bootstrap verifies connectivity and applies the schema. Safe to run on an
// already-initialized database.
func Bootstrap(ctx context.Context, dsn string) error {
	if dsn == "" {
		return nil
	}
	db, err := Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return EnsureSchema(ctx, db)
}

// --- Persons ---
type persons struct{ db *sql.DB }

func (p *persons) Create(ctx context.Context, m *model.Person) (*model.Person, error) {
	var out model.Person
	row := p.db.QueryRowContext(ctx, `
        INSERT INTO persons (external_id, username, avatar_url, email, telegram_id)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at, updated_at
    `, m.ExternalID, m.Username, m.AvatarURL, m.Email, m.TelegramID)
	if err := row.Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, translateErr(err)
	}
	out.ExternalID = m.ExternalID
	out.Username = m.Username
	out.AvatarURL = m.AvatarURL
	out.Email = m.Email
	out.TelegramID = m.TelegramID
	return &out, nil
}

const personColumns = `id, external_id, username, avatar_url, email, telegram_id, created_at, updated_at`

func scanPerson(row interface{ Scan(...interface{}) error }) (*model.Person, error) {
	var out model.Person
	if err := row.Scan(&out.ID, &out.ExternalID, &out.Username, &out.AvatarURL, &out.Email, &out.TelegramID, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, translateErr(err)
	}
	return &out, nil
}

func (p *persons) Get(ctx context.Context, id int64) (*model.Person, error) {
	return scanPerson(p.db.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE id=$1`, id))
}

func (p *persons) GetByExternalID(ctx context.Context, externalID string) (*model.Person, error) {
	return scanPerson(p.db.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE external_id=$1`, externalID))
}

func (p *persons) List(ctx context.Context, req model.ListPersonsRequest) ([]*model.Person, int, error) {
	where := ``
	args := []interface{}{}
	if req.Search != "" {
		where = ` WHERE username ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%'`
		args = append(args, req.Search)
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM persons`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + personColumns + ` FROM persons` + where + ` ORDER BY id ASC`
	if req.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, req.Limit)
	}
	if req.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, req.Offset)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var res []*model.Person
	for rows.Next() {
		m, err := scanPerson(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, m)
	}
	return res, total, rows.Err()
}

func (p *persons) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id FROM persons ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *persons) Update(ctx context.Context, id int64, req model.UpdatePersonRequest) (*model.Person, error) {
	return scanPerson(p.db.QueryRowContext(ctx, `
        UPDATE persons SET
            username    = COALESCE($2, username),
            avatar_url  = COALESCE($3, avatar_url),
            email       = COALESCE($4, email),
            telegram_id = COALESCE($5, telegram_id),
            updated_at  = now()
        WHERE id=$1
        RETURNING `+personColumns+`
    `, id, req.Username, req.AvatarURL, req.Email, req.TelegramID))
}

func (p *persons) Delete(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM persons WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// --- Activities ---
type activities struct{ db *sql.DB }

func (a *activities) UpsertConversation(ctx context.Context, c *model.Conversation) (*model.Conversation, error) {
	metaJSON, _ := json.Marshal(c.Metadata)
	var out model.Conversation
	row := a.db.QueryRowContext(ctx, `
        INSERT INTO conversation_events (person_id, external_id, title, occurred_at, metadata)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (external_id, person_id) DO UPDATE SET
            title          = EXCLUDED.title,
            occurred_at    = EXCLUDED.occurred_at,
            metadata       = COALESCE(conversation_events.metadata, EXCLUDED.metadata),
            last_synced_at = now()
        RETURNING id, last_synced_at
    `, c.PersonID, c.ExternalID, c.Title, c.OccurredAt, nullIfEmpty(metaJSON))
	if err := row.Scan(&out.ID, &out.LastSyncedAt); err != nil {
		return nil, translateErr(err)
	}
	out.PersonID = c.PersonID
	out.ExternalID = c.ExternalID
	out.Title = c.Title
	out.OccurredAt = c.OccurredAt
	out.Metadata = c.Metadata
	return &out, nil
}

func (a *activities) UpsertTask(ctx context.Context, t *model.TaskCompletion) (*model.TaskCompletion, error) {
	metaJSON, _ := json.Marshal(t.Metadata)
	var out model.TaskCompletion
	row := a.db.QueryRowContext(ctx, `
        INSERT INTO task_events (person_id, external_id, title, project_name, completed_at, last_status_change, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (external_id) DO UPDATE SET
            person_id          = EXCLUDED.person_id,
            title              = EXCLUDED.title,
            project_name       = EXCLUDED.project_name,
            completed_at       = EXCLUDED.completed_at,
            last_status_change = EXCLUDED.last_status_change,
            metadata           = COALESCE(task_events.metadata, EXCLUDED.metadata),
            last_synced_at     = now()
        RETURNING id, last_synced_at
    `, t.PersonID, t.ExternalID, t.Title, t.ProjectName, t.CompletedAt, t.LastStatusChange, nullIfEmpty(metaJSON))
	if err := row.Scan(&out.ID, &out.LastSyncedAt); err != nil {
		return nil, translateErr(err)
	}
	out.PersonID = t.PersonID
	out.ExternalID = t.ExternalID
	out.Title = t.Title
	out.ProjectName = t.ProjectName
	out.CompletedAt = t.CompletedAt
	out.LastStatusChange = t.LastStatusChange
	out.Metadata = t.Metadata
	return &out, nil
}

func (a *activities) ListConversations(ctx context.Context, personID int64, from, to *time.Time) ([]*model.Conversation, error) {
	query := `SELECT id, person_id, external_id, title, occurred_at, metadata, last_synced_at
              FROM conversation_events WHERE person_id=$1`
	args := []interface{}{personID}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(` AND occurred_at >= $%d`, len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(` AND occurred_at <= $%d`, len(args))
	}
	query += ` ORDER BY occurred_at DESC`

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []*model.Conversation
	for rows.Next() {
		var m model.Conversation
		var meta sql.NullString
		if err := rows.Scan(&m.ID, &m.PersonID, &m.ExternalID, &m.Title, &m.OccurredAt, &meta, &m.LastSyncedAt); err != nil {
			return nil, err
		}
		if meta.Valid {
			_ = json.Unmarshal([]byte(meta.String), &m.Metadata)
		}
		res = append(res, &m)
	}
	return res, rows.Err()
}

func (a *activities) ListTasks(ctx context.Context, personID int64, from, to *time.Time) ([]*model.TaskCompletion, error) {
	query := `SELECT id, person_id, external_id, title, project_name, completed_at, last_status_change, metadata, last_synced_at
              FROM task_events WHERE person_id=$1`
	args := []interface{}{personID}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(` AND completed_at >= $%d`, len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(` AND completed_at <= $%d`, len(args))
	}
	query += ` ORDER BY completed_at DESC`

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []*model.TaskCompletion
	for rows.Next() {
		var m model.TaskCompletion
		var meta sql.NullString
		if err := rows.Scan(&m.ID, &m.PersonID, &m.ExternalID, &m.Title, &m.ProjectName, &m.CompletedAt, &m.LastStatusChange, &meta, &m.LastSyncedAt); err != nil {
			return nil, err
		}
		if meta.Valid {
			_ = json.Unmarshal([]byte(meta.String), &m.Metadata)
		}
		res = append(res, &m)
	}
	return res, rows.Err()
}

func (a *activities) CountInRange(ctx context.Context, personID int64, from, to time.Time) (int, int, error) {
	var conversations, tasks int
	if err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_events WHERE person_id=$1 AND occurred_at >= $2 AND occurred_at < $3`,
		personID, from, to).Scan(&conversations); err != nil {
		return 0, 0, err
	}
	if err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_events WHERE person_id=$1 AND completed_at >= $2 AND completed_at < $3`,
		personID, from, to).Scan(&tasks); err != nil {
		return 0, 0, err
	}
	return conversations, tasks, nil
}

// --- Summaries ---
type summaries struct{ db *sql.DB }

func (s *summaries) Upsert(ctx context.Context, m *model.DailySummary) (*model.DailySummary, error) {
	out := *m
	out.Day = model.DayOf(m.Day)
	row := s.db.QueryRowContext(ctx, `
        INSERT INTO daily_summaries (person_id, day, conversations, tasks_completed, score)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (person_id, day) DO UPDATE SET
            conversations   = EXCLUDED.conversations,
            tasks_completed = EXCLUDED.tasks_completed,
            score           = EXCLUDED.score,
            updated_at      = now()
        RETURNING updated_at
    `, m.PersonID, model.FormatDay(m.Day), m.Conversations, m.TasksCompleted, m.Score)
	if err := row.Scan(&out.UpdatedAt); err != nil {
		return nil, translateErr(err)
	}
	return &out, nil
}

func (s *summaries) Get(ctx context.Context, personID int64, day time.Time) (*model.DailySummary, error) {
	var out model.DailySummary
	row := s.db.QueryRowContext(ctx, `
        SELECT person_id, day, conversations, tasks_completed, score, updated_at
        FROM daily_summaries WHERE person_id=$1 AND day=$2
    `, personID, model.FormatDay(day))
	if err := row.Scan(&out.PersonID, &out.Day, &out.Conversations, &out.TasksCompleted, &out.Score, &out.UpdatedAt); err != nil {
		return nil, translateErr(err)
	}
	out.Day = model.DayOf(out.Day)
	return &out, nil
}

func (s *summaries) ListRange(ctx context.Context, personID int64, from, to time.Time) ([]*model.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT person_id, day, conversations, tasks_completed, score, updated_at
        FROM daily_summaries
        WHERE person_id=$1 AND day >= $2 AND day <= $3
        ORDER BY day ASC
    `, personID, model.FormatDay(from), model.FormatDay(to))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []*model.DailySummary
	for rows.Next() {
		var m model.DailySummary
		if err := rows.Scan(&m.PersonID, &m.Day, &m.Conversations, &m.TasksCompleted, &m.Score, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Day = model.DayOf(m.Day)
		res = append(res, &m)
	}
	return res, rows.Err()
}

func (s *summaries) ListActiveDays(ctx context.Context, personID int64) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day FROM daily_summaries WHERE person_id=$1 AND score > 0 ORDER BY day ASC`, personID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		res = append(res, model.DayOf(d))
	}
	return res, rows.Err()
}

func (s *summaries) Leaderboard(ctx context.Context, from, to time.Time, limit int) ([]*model.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT s.person_id, p.username, p.avatar_url,
               COALESCE(SUM(s.conversations),0),
               COALESCE(SUM(s.tasks_completed),0),
               COALESCE(SUM(s.score),0) AS total
        FROM daily_summaries s
        JOIN persons p ON p.id = s.person_id
        WHERE s.day >= $1 AND s.day <= $2
        GROUP BY s.person_id, p.username, p.avatar_url
        ORDER BY total DESC, s.person_id ASC
        LIMIT $3
    `, model.FormatDay(from), model.FormatDay(to), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []*model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.PersonID, &e.Username, &e.AvatarURL, &e.Conversations, &e.TasksCompleted, &e.Score); err != nil {
			return nil, err
		}
		e.Rank = len(res) + 1
		res = append(res, &e)
	}
	return res, rows.Err()
}

// --- Caches ---
type caches struct{ db *sql.DB }

func (c *caches) ReplaceProjects(ctx context.Context, items []*model.CachedProject) (int, error) {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cached_projects`); err != nil {
		return 0, err
	}
	for _, it := range items {
		assignees, _ := json.Marshal(it.Assignees)
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO cached_projects
                (page_id, name, health_status, health_color, status, priority, priority_color,
                 assignees, task_count, url, source_created_at, source_edited_at, cached_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, now())
        `, it.PageID, it.Name, it.HealthStatus, it.HealthColor, it.Status, it.Priority, it.PriorityColor,
			nullIfEmpty(assignees), it.TaskCount, it.URL, it.SourceCreatedAt, it.SourceEditedAt); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(items), nil
}

func (c *caches) ListProjects(ctx context.Context) ([]*model.CachedProject, error) {
	rows, err := c.db.QueryContext(ctx, `
        SELECT page_id, name, health_status, health_color, status, priority, priority_color,
               assignees, task_count, url, source_created_at, source_edited_at, cached_at
        FROM cached_projects ORDER BY name ASC
    `)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []*model.CachedProject
	for rows.Next() {
		var m model.CachedProject
		var assignees sql.NullString
		if err := rows.Scan(&m.PageID, &m.Name, &m.HealthStatus, &m.HealthColor, &m.Status, &m.Priority, &m.PriorityColor,
			&assignees, &m.TaskCount, &m.URL, &m.SourceCreatedAt, &m.SourceEditedAt, &m.CachedAt); err != nil {
			return nil, err
		}
		if assignees.Valid {
			_ = json.Unmarshal([]byte(assignees.String), &m.Assignees)
		}
		res = append(res, &m)
	}
	return res, rows.Err()
}

func (c *caches) ReplaceTasks(ctx context.Context, items []*model.CachedTask) (int, error) {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cached_tasks`); err != nil {
		return 0, err
	}
	for _, it := range items {
		types, _ := json.Marshal(it.Types)
		assignees, _ := json.Marshal(it.Assignees)
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO cached_tasks
                (page_id, name, status, priority, effort, description, due_date, types, assignees,
                 source_created_at, source_edited_at, cached_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now())
        `, it.PageID, it.Name, it.Status, it.Priority, it.Effort, it.Description, it.DueDate,
			nullIfEmpty(types), nullIfEmpty(assignees), it.SourceCreatedAt, it.SourceEditedAt); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(items), nil
}

func (c *caches) ListTasks(ctx context.Context) ([]*model.CachedTask, error) {
	rows, err := c.db.QueryContext(ctx, `
        SELECT page_id, name, status, priority, effort, description, due_date, types, assignees,
               source_created_at, source_edited_at, cached_at
        FROM cached_tasks ORDER BY name ASC
    `)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []*model.CachedTask
	for rows.Next() {
		var m model.CachedTask
		var types, assignees sql.NullString
		if err := rows.Scan(&m.PageID, &m.Name, &m.Status, &m.Priority, &m.Effort, &m.Description, &m.DueDate,
			&types, &assignees, &m.SourceCreatedAt, &m.SourceEditedAt, &m.CachedAt); err != nil {
			return nil, err
		}
		if types.Valid {
			_ = json.Unmarshal([]byte(types.String), &m.Types)
		}
		if assignees.Valid {
			_ = json.Unmarshal([]byte(assignees.String), &m.Assignees)
		}
		res = append(res, &m)
	}
	return res, rows.Err()
}

func (c *caches) ReplaceTodos(ctx context.Context, items []*model.CachedTodo) (int, error) {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cached_todos`); err != nil {
		return 0, err
	}
	for _, it := range items {
		projects, _ := json.Marshal(it.ProjectIDs)
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO cached_todos
                (todo_id, member_name, name, status, deadline, done_at, overdue, project_ids, url, cached_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
        `, it.TodoID, it.MemberName, it.Name, it.Status, it.Deadline, it.DoneAt, it.Overdue,
			nullIfEmpty(projects), it.URL); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(items), nil
}

func (c *caches) ListTodos(ctx context.Context) ([]*model.CachedTodo, error) {
	rows, err := c.db.QueryContext(ctx, `
        SELECT todo_id, member_name, name, status, deadline, done_at, overdue, project_ids, url, cached_at
        FROM cached_todos ORDER BY member_name ASC, name ASC
    `)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []*model.CachedTodo
	for rows.Next() {
		var m model.CachedTodo
		var projects sql.NullString
		if err := rows.Scan(&m.TodoID, &m.MemberName, &m.Name, &m.Status, &m.Deadline, &m.DoneAt, &m.Overdue,
			&projects, &m.URL, &m.CachedAt); err != nil {
			return nil, err
		}
		if projects.Valid {
			_ = json.Unmarshal([]byte(projects.String), &m.ProjectIDs)
		}
		res = append(res, &m)
	}
	return res, rows.Err()
}

func (c *caches) UpsertMembers(ctx context.Context, items []*model.CachedMember) (int, error) {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO cached_members (member_name, position, status, telegram_id, start_date, cached_at)
            VALUES ($1,$2,$3,$4,$5, now())
            ON CONFLICT (member_name) DO UPDATE SET
                position    = EXCLUDED.position,
                status      = EXCLUDED.status,
                telegram_id = EXCLUDED.telegram_id,
                start_date  = EXCLUDED.start_date,
                cached_at   = now()
        `, it.Name, it.Position, it.Status, it.TelegramID, it.StartDate); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(items), nil
}

func (c *caches) ListMembers(ctx context.Context) ([]*model.CachedMember, error) {
	rows, err := c.db.QueryContext(ctx, `
        SELECT member_name, position, status, telegram_id, start_date, cached_at
        FROM cached_members ORDER BY member_name ASC
    `)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []*model.CachedMember
	for rows.Next() {
		var m model.CachedMember
		if err := rows.Scan(&m.Name, &m.Position, &m.Status, &m.TelegramID, &m.StartDate, &m.CachedAt); err != nil {
			return nil, err
		}
		res = append(res, &m)
	}
	return res, rows.Err()
}

func (c *caches) BeginRefresh(ctx context.Context, cacheType string) (bool, error) {
	if _, err := c.db.ExecContext(ctx, `
        INSERT INTO cache_metadata (cache_type, is_updating) VALUES ($1, FALSE)
        ON CONFLICT (cache_type) DO NOTHING
    `, cacheType); err != nil {
		return false, err
	}
	// The lock is the conditional update itself: it affects one row only when
	// no other refresh holds the flag.
	res, err := c.db.ExecContext(ctx,
		`UPDATE cache_metadata SET is_updating=TRUE WHERE cache_type=$1 AND is_updating=FALSE`, cacheType)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *caches) CompleteRefresh(ctx context.Context, cacheType string, records int, duration time.Duration) error {
	_, err := c.db.ExecContext(ctx, `
        UPDATE cache_metadata SET
            last_updated      = now(),
            is_updating       = FALSE,
            total_records     = $2,
            last_duration_sec = $3,
            last_error        = NULL
        WHERE cache_type=$1
    `, cacheType, records, duration.Seconds())
	return err
}

func (c *caches) FailRefresh(ctx context.Context, cacheType string, message string, duration time.Duration) error {
	_, err := c.db.ExecContext(ctx, `
        UPDATE cache_metadata SET
            last_updated      = now(),
            is_updating       = FALSE,
            last_duration_sec = $3,
            last_error        = $2
        WHERE cache_type=$1
    `, cacheType, message, duration.Seconds())
	return err
}

func (c *caches) GetMetadata(ctx context.Context, cacheType string) (*model.CacheMetadata, error) {
	var out model.CacheMetadata
	row := c.db.QueryRowContext(ctx, `
        SELECT cache_type, last_updated, is_updating, total_records, last_duration_sec, last_error
        FROM cache_metadata WHERE cache_type=$1
    `, cacheType)
	if err := row.Scan(&out.CacheType, &out.LastUpdated, &out.IsUpdating, &out.TotalRecords, &out.LastDurationSeconds, &out.LastError); err != nil {
		return nil, translateErr(err)
	}
	return &out, nil
}

func (c *caches) ListMetadata(ctx context.Context) ([]*model.CacheMetadata, error) {
	rows, err := c.db.QueryContext(ctx, `
        SELECT cache_type, last_updated, is_updating, total_records, last_duration_sec, last_error
        FROM cache_metadata ORDER BY cache_type ASC
    `)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []*model.CacheMetadata
	for rows.Next() {
		var m model.CacheMetadata
		if err := rows.Scan(&m.CacheType, &m.LastUpdated, &m.IsUpdating, &m.TotalRecords, &m.LastDurationSeconds, &m.LastError); err != nil {
			return nil, err
		}
		res = append(res, &m)
	}
	return res, rows.Err()
}

func (c *caches) ForceUnlock(ctx context.Context, cacheType string) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE cache_metadata SET is_updating=FALSE WHERE cache_type=$1`, cacheType)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// helpers

// translateErr maps driver errors onto the model sentinels.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return model.ErrDuplicateIdentity
	}
	return err
}

func nullIfEmpty(b []byte) interface{} {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return b
}
