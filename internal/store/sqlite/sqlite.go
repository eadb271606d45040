package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "modernc.org/sqlite"

	"github.com/pulseboard/pulseboard/internal/model"
	"github.com/pulseboard/pulseboard/internal/store"
)

// Open opens (or creates) a SQLite database at the given path and enables WAL
// journal mode plus foreign key enforcement.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// each pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a SQLite-backed store. The schema must already exist;
// call EnsureSchema after Open.
func NewWithDB(db *sql.DB) store.Store { return &sqliteStore{db: db} }

type sqliteStore struct{ db *sql.DB }

func (s *sqliteStore) Persons() store.Persons       { return &persons{db: s.db} }
func (s *sqliteStore) Activities() store.Activities { return &activities{db: s.db} }
func (s *sqliteStore) Summaries() store.Summaries   { return &summaries{db: s.db} }
func (s *sqliteStore) Caches() store.Caches         { return &caches{db: s.db} }

// HealthPing implements health.HealthPinger.
func (s *sqliteStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Persons ---
type persons struct{ db *sql.DB }

func (p *persons) Create(ctx context.Context, m *model.Person) (*model.Person, error) {
	now := time.Now().UTC().Truncate(time.Second)
	res, err := p.db.ExecContext(ctx, `
        INSERT INTO persons (external_id, username, avatar_url, email, telegram_id, created_at, updated_at)
        VALUES (?,?,?,?,?,?,?)
    `, m.ExternalID, m.Username, m.AvatarURL, m.Email, m.TelegramID, now.Unix(), now.Unix())
	if err != nil {
		return nil, translateErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	out := *m
	out.ID = id
	out.CreatedAt = now
	out.UpdatedAt = now
	return &out, nil
}

const personColumns = `id, external_id, username, avatar_url, email, telegram_id, created_at, updated_at`

func scanPerson(row interface{ Scan(...interface{}) error }) (*model.Person, error) {
	var out model.Person
	var avatar, email, telegram sql.NullString
	var created, updated int64
	if err := row.Scan(&out.ID, &out.ExternalID, &out.Username, &avatar, &email, &telegram, &created, &updated); err != nil {
		return nil, translateErr(err)
	}
	out.AvatarURL = fromNullString(avatar)
	out.Email = fromNullString(email)
	out.TelegramID = fromNullString(telegram)
	out.CreatedAt = fromUnix(created)
	out.UpdatedAt = fromUnix(updated)
	return &out, nil
}

func (p *persons) Get(ctx context.Context, id int64) (*model.Person, error) {
	return scanPerson(p.db.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE id=?`, id))
}

func (p *persons) GetByExternalID(ctx context.Context, externalID string) (*model.Person, error) {
	return scanPerson(p.db.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE external_id=?`, externalID))
}

func (p *persons) List(ctx context.Context, req model.ListPersonsRequest) ([]*model.Person, int, error) {
	where := ``
	args := []interface{}{}
	if req.Search != "" {
		where = ` WHERE LOWER(username) LIKE '%' || LOWER(?) || '%' OR LOWER(COALESCE(email,'')) LIKE '%' || LOWER(?) || '%'`
		args = append(args, req.Search, req.Search)
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
	now := time.Now().UTC().Truncate(time.Second)
	res, err := p.db.ExecContext(ctx, `
        UPDATE persons SET
            username    = COALESCE(?, username),
            avatar_url  = COALESCE(?, avatar_url),
            email       = COALESCE(?, email),
            telegram_id = COALESCE(?, telegram_id),
            updated_at  = ?
        WHERE id=?
    `, req.Username, req.AvatarURL, req.Email, req.TelegramID, now.Unix(), id)
	if err != nil {
		return nil, translateErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, model.ErrNotFound
	}
	return p.Get(ctx, id)
}

func (p *persons) Delete(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM persons WHERE id=?`, id)
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
	now := time.Now().UTC().Truncate(time.Second)
	if _, err := a.db.ExecContext(ctx, `
        INSERT INTO conversation_events (person_id, external_id, title, occurred_at, metadata, last_synced_at)
        VALUES (?,?,?,?,?,?)
        ON CONFLICT (external_id, person_id) DO UPDATE SET
            title          = excluded.title,
            occurred_at    = excluded.occurred_at,
            metadata       = COALESCE(conversation_events.metadata, excluded.metadata),
            last_synced_at = excluded.last_synced_at
    `, c.PersonID, c.ExternalID, c.Title, c.OccurredAt.Unix(), jsonOrNil(c.Metadata), now.Unix()); err != nil {
		return nil, translateErr(err)
	}
	out := *c
	out.LastSyncedAt = now
	if err := a.db.QueryRowContext(ctx,
		`SELECT id FROM conversation_events WHERE external_id=? AND person_id=?`,
		c.ExternalID, c.PersonID).Scan(&out.ID); err != nil {
		return nil, translateErr(err)
	}
	return &out, nil
}

func (a *activities) UpsertTask(ctx context.Context, t *model.TaskCompletion) (*model.TaskCompletion, error) {
	now := time.Now().UTC().Truncate(time.Second)
	if _, err := a.db.ExecContext(ctx, `
        INSERT INTO task_events (person_id, external_id, title, project_name, completed_at, last_status_change, metadata, last_synced_at)
        VALUES (?,?,?,?,?,?,?,?)
        ON CONFLICT (external_id) DO UPDATE SET
            person_id          = excluded.person_id,
            title              = excluded.title,
            project_name       = excluded.project_name,
            completed_at       = excluded.completed_at,
            last_status_change = excluded.last_status_change,
            metadata           = COALESCE(task_events.metadata, excluded.metadata),
            last_synced_at     = excluded.last_synced_at
    `, t.PersonID, t.ExternalID, t.Title, t.ProjectName, t.CompletedAt.Unix(),
		unixOrNil(t.LastStatusChange), jsonOrNil(t.Metadata), now.Unix()); err != nil {
		return nil, translateErr(err)
	}
	out := *t
	out.LastSyncedAt = now
	if err := a.db.QueryRowContext(ctx,
		`SELECT id FROM task_events WHERE external_id=?`, t.ExternalID).Scan(&out.ID); err != nil {
		return nil, translateErr(err)
	}
	return &out, nil
}

func (a *activities) ListConversations(ctx context.Context, personID int64, from, to *time.Time) ([]*model.Conversation, error) {
	query := `SELECT id, person_id, external_id, title, occurred_at, metadata, last_synced_at
              FROM conversation_events WHERE person_id=?`
	args := []interface{}{personID}
	if from != nil {
		query += ` AND occurred_at >= ?`
		args = append(args, from.Unix())
	}
	if to != nil {
		query += ` AND occurred_at <= ?`
		args = append(args, to.Unix())
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
		var occurred, synced int64
		var meta sql.NullString
		if err := rows.Scan(&m.ID, &m.PersonID, &m.ExternalID, &m.Title, &occurred, &meta, &synced); err != nil {
			return nil, err
		}
		m.OccurredAt = fromUnix(occurred)
		m.LastSyncedAt = fromUnix(synced)
		if meta.Valid {
			_ = json.Unmarshal([]byte(meta.String), &m.Metadata)
		}
		res = append(res, &m)
	}
	return res, rows.Err()
}

func (a *activities) ListTasks(ctx context.Context, personID int64, from, to *time.Time) ([]*model.TaskCompletion, error) {
	query := `SELECT id, person_id, external_id, title, project_name, completed_at, last_status_change, metadata, last_synced_at
              FROM task_events WHERE person_id=?`
	args := []interface{}{personID}
	if from != nil {
		query += ` AND completed_at >= ?`
		args = append(args, from.Unix())
	}
	if to != nil {
		query += ` AND completed_at <= ?`
		args = append(args, to.Unix())
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
		var project, meta sql.NullString
		var completed, synced int64
		var statusChange sql.NullInt64
		if err := rows.Scan(&m.ID, &m.PersonID, &m.ExternalID, &m.Title, &project, &completed, &statusChange, &meta, &synced); err != nil {
			return nil, err
		}
		m.ProjectName = fromNullString(project)
		m.CompletedAt = fromUnix(completed)
		m.LastStatusChange = fromNullUnix(statusChange)
		m.LastSyncedAt = fromUnix(synced)
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
		`SELECT COUNT(*) FROM conversation_events WHERE person_id=? AND occurred_at >= ? AND occurred_at < ?`,
		personID, from.Unix(), to.Unix()).Scan(&conversations); err != nil {
		return 0, 0, err
	}
	if err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_events WHERE person_id=? AND completed_at >= ? AND completed_at < ?`,
		personID, from.Unix(), to.Unix()).Scan(&tasks); err != nil {
		return 0, 0, err
	}
	return conversations, tasks, nil
}

// --- Summaries ---
type summaries struct{ db *sql.DB }

func (s *summaries) Upsert(ctx context.Context, m *model.DailySummary) (*model.DailySummary, error) {
	now := time.Now().UTC().Truncate(time.Second)
	if _, err := s.db.ExecContext(ctx, `
        INSERT INTO daily_summaries (person_id, day, conversations, tasks_completed, score, updated_at)
        VALUES (?,?,?,?,?,?)
        ON CONFLICT (person_id, day) DO UPDATE SET
            conversations   = excluded.conversations,
            tasks_completed = excluded.tasks_completed,
            score           = excluded.score,
            updated_at      = excluded.updated_at
    `, m.PersonID, model.FormatDay(m.Day), m.Conversations, m.TasksCompleted, m.Score, now.Unix()); err != nil {
		return nil, translateErr(err)
	}
	out := *m
	out.Day = model.DayOf(m.Day)
	out.UpdatedAt = now
	return &out, nil
}

func scanSummary(row interface{ Scan(...interface{}) error }) (*model.DailySummary, error) {
	var out model.DailySummary
	var dayStr string
	var updated int64
	if err := row.Scan(&out.PersonID, &dayStr, &out.Conversations, &out.TasksCompleted, &out.Score, &updated); err != nil {
		return nil, translateErr(err)
	}
	day, err := model.ParseDay(dayStr)
	if err != nil {
		return nil, err
	}
	out.Day = day
	out.UpdatedAt = fromUnix(updated)
	return &out, nil
}

func (s *summaries) Get(ctx context.Context, personID int64, day time.Time) (*model.DailySummary, error) {
	return scanSummary(s.db.QueryRowContext(ctx, `
        SELECT person_id, day, conversations, tasks_completed, score, updated_at
        FROM daily_summaries WHERE person_id=? AND day=?
    `, personID, model.FormatDay(day)))
}

func (s *summaries) ListRange(ctx context.Context, personID int64, from, to time.Time) ([]*model.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT person_id, day, conversations, tasks_completed, score, updated_at
        FROM daily_summaries
        WHERE person_id=? AND day >= ? AND day <= ?
        ORDER BY day ASC
    `, personID, model.FormatDay(from), model.FormatDay(to))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []*model.DailySummary
	for rows.Next() {
		m, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (s *summaries) ListActiveDays(ctx context.Context, personID int64) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day FROM daily_summaries WHERE person_id=? AND score > 0 ORDER BY day ASC`, personID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []time.Time
	for rows.Next() {
		var dayStr string
		if err := rows.Scan(&dayStr); err != nil {
			return nil, err
		}
		day, err := model.ParseDay(dayStr)
		if err != nil {
			return nil, err
		}
		res = append(res, day)
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
        WHERE s.day >= ? AND s.day <= ?
        GROUP BY s.person_id, p.username, p.avatar_url
        ORDER BY total DESC, s.person_id ASC
        LIMIT ?
    `, model.FormatDay(from), model.FormatDay(to), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []*model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		var avatar sql.NullString
		if err := rows.Scan(&e.PersonID, &e.Username, &avatar, &e.Conversations, &e.TasksCompleted, &e.Score); err != nil {
			return nil, err
		}
		e.AvatarURL = fromNullString(avatar)
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
	now := time.Now().UTC().Truncate(time.Second)
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO cached_projects
                (page_id, name, health_status, health_color, status, priority, priority_color,
                 assignees, task_count, url, source_created_at, source_edited_at, cached_at)
            VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
        `, it.PageID, it.Name, it.HealthStatus, it.HealthColor, it.Status, it.Priority, it.PriorityColor,
			jsonOrNil(it.Assignees), it.TaskCount, it.URL, unixOrNil(it.SourceCreatedAt), unixOrNil(it.SourceEditedAt), now.Unix()); err != nil {
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
		var created, edited sql.NullInt64
		var cached int64
		if err := rows.Scan(&m.PageID, &m.Name, &m.HealthStatus, &m.HealthColor, &m.Status, &m.Priority, &m.PriorityColor,
			&assignees, &m.TaskCount, &m.URL, &created, &edited, &cached); err != nil {
			return nil, err
		}
		m.Assignees = fromJSONStrings(assignees)
		m.SourceCreatedAt = fromNullUnix(created)
		m.SourceEditedAt = fromNullUnix(edited)
		m.CachedAt = fromUnix(cached)
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
	now := time.Now().UTC().Truncate(time.Second)
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO cached_tasks
                (page_id, name, status, priority, effort, description, due_date, types, assignees,
                 source_created_at, source_edited_at, cached_at)
            VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
        `, it.PageID, it.Name, it.Status, it.Priority, it.Effort, it.Description, unixOrNil(it.DueDate),
			jsonOrNil(it.Types), jsonOrNil(it.Assignees), unixOrNil(it.SourceCreatedAt), unixOrNil(it.SourceEditedAt), now.Unix()); err != nil {
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
		var due, created, edited sql.NullInt64
		var cached int64
		if err := rows.Scan(&m.PageID, &m.Name, &m.Status, &m.Priority, &m.Effort, &m.Description, &due,
			&types, &assignees, &created, &edited, &cached); err != nil {
			return nil, err
		}
		m.DueDate = fromNullUnix(due)
		m.Types = fromJSONStrings(types)
		m.Assignees = fromJSONStrings(assignees)
		m.SourceCreatedAt = fromNullUnix(created)
		m.SourceEditedAt = fromNullUnix(edited)
		m.CachedAt = fromUnix(cached)
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
	now := time.Now().UTC().Truncate(time.Second)
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO cached_todos
                (todo_id, member_name, name, status, deadline, done_at, overdue, project_ids, url, cached_at)
            VALUES (?,?,?,?,?,?,?,?,?,?)
        `, it.TodoID, it.MemberName, it.Name, it.Status, unixOrNil(it.Deadline), unixOrNil(it.DoneAt),
			boolToInt(it.Overdue), jsonOrNil(it.ProjectIDs), it.URL, now.Unix()); err != nil {
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
		var deadline, done sql.NullInt64
		var overdue, cached int64
		var projects sql.NullString
		if err := rows.Scan(&m.TodoID, &m.MemberName, &m.Name, &m.Status, &deadline, &done, &overdue,
			&projects, &m.URL, &cached); err != nil {
			return nil, err
		}
		m.Deadline = fromNullUnix(deadline)
		m.DoneAt = fromNullUnix(done)
		m.Overdue = overdue != 0
		m.ProjectIDs = fromJSONStrings(projects)
		m.CachedAt = fromUnix(cached)
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

	now := time.Now().UTC().Truncate(time.Second)
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO cached_members (member_name, position, status, telegram_id, start_date, cached_at)
            VALUES (?,?,?,?,?,?)
            ON CONFLICT (member_name) DO UPDATE SET
                position    = excluded.position,
                status      = excluded.status,
                telegram_id = excluded.telegram_id,
                start_date  = excluded.start_date,
                cached_at   = excluded.cached_at
        `, it.Name, it.Position, it.Status, it.TelegramID, unixOrNil(it.StartDate), now.Unix()); err != nil {
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
		var start sql.NullInt64
		var cached int64
		if err := rows.Scan(&m.Name, &m.Position, &m.Status, &m.TelegramID, &start, &cached); err != nil {
			return nil, err
		}
		m.StartDate = fromNullUnix(start)
		m.CachedAt = fromUnix(cached)
		res = append(res, &m)
	}
	return res, rows.Err()
}

func (c *caches) BeginRefresh(ctx context.Context, cacheType string) (bool, error) {
	if _, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_metadata (cache_type, is_updating) VALUES (?, 0)`, cacheType); err != nil {
		return false, err
	}
	res, err := c.db.ExecContext(ctx,
		`UPDATE cache_metadata SET is_updating=1 WHERE cache_type=? AND is_updating=0`, cacheType)
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
            last_updated      = ?,
            is_updating       = 0,
            total_records     = ?,
            last_duration_sec = ?,
            last_error        = NULL
        WHERE cache_type=?
    `, time.Now().UTC().Unix(), records, duration.Seconds(), cacheType)
	return err
}

func (c *caches) FailRefresh(ctx context.Context, cacheType string, message string, duration time.Duration) error {
	_, err := c.db.ExecContext(ctx, `
        UPDATE cache_metadata SET
            last_updated      = ?,
            is_updating       = 0,
            last_duration_sec = ?,
            last_error        = ?
        WHERE cache_type=?
    `, time.Now().UTC().Unix(), duration.Seconds(), message, cacheType)
	return err
}

func scanMetadata(row interface{ Scan(...interface{}) error }) (*model.CacheMetadata, error) {
	var out model.CacheMetadata
	var updatedAt sql.NullInt64
	var updating int64
	var lastErr sql.NullString
	if err := row.Scan(&out.CacheType, &updatedAt, &updating, &out.TotalRecords, &out.LastDurationSeconds, &lastErr); err != nil {
		return nil, translateErr(err)
	}
	out.LastUpdated = fromNullUnix(updatedAt)
	out.IsUpdating = updating != 0
	out.LastError = fromNullString(lastErr)
	return &out, nil
}

func (c *caches) GetMetadata(ctx context.Context, cacheType string) (*model.CacheMetadata, error) {
	return scanMetadata(c.db.QueryRowContext(ctx, `
        SELECT cache_type, last_updated, is_updating, total_records, last_duration_sec, last_error
        FROM cache_metadata WHERE cache_type=?
    `, cacheType))
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
		m, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (c *caches) ForceUnlock(ctx context.Context, cacheType string) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE cache_metadata SET is_updating=0 WHERE cache_type=?`, cacheType)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// helpers

const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// translateErr maps driver errors onto the model sentinels.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqliteConstraintUnique, sqliteConstraintPrimaryKey:
			return model.ErrDuplicateIdentity
		}
	}
	return err
}

func fromUnix(v int64) time.Time { return time.Unix(v, 0).UTC() }

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func fromJSONStrings(s sql.NullString) []string {
	if !s.Valid {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s.String), &out)
	return out
}

func jsonOrNil(v interface{}) interface{} {
	b, err := json.Marshal(v)
	if err != nil || len(b) == 0 || string(b) == "null" {
		return nil
	}
	return string(b)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
