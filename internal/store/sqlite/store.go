// Package sqlite is the dev-friendly session.Store adapter: a single
// file database via mattn/go-sqlite3, same embedded-migration idiom
// as internal/store/postgres.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hubenschmidt/coachserver/internal/errs"
	"github.com/hubenschmidt/coachserver/internal/model"
	"github.com/hubenschmidt/coachserver/internal/session"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const timeLayout = time.RFC3339Nano

// Store implements session.Store against a local SQLite file.
type Store struct {
	db *sql.DB
}

// New opens path (created if absent) and applies any pending migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)`); err != nil {
		return err
	}
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("sqlite: read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var exists int
		if err := s.db.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE version=?`, name).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			continue
		}
		sqlBytes, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("sqlite: apply %s: %w", name, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, name); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(timeLayout)
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func (s *Store) Create(ctx context.Context, sess *model.Session) error {
	cfg, err := json.Marshal(sess.Config)
	if err != nil {
		return errs.Wrap(errs.StorageUnavailable, "marshal session config", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, title, description, config, state, created_at, started_at, ended_at, processing_errors)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.UserID, sess.Title, sess.Description, string(cfg), string(sess.State),
		sess.CreatedAt.Format(timeLayout), formatTime(sess.StartedAt), formatTime(sess.EndedAt), sess.ProcessingErrors)
	if err != nil {
		return errs.Wrap(errs.StorageUnavailable, "insert session", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, description, config, state, created_at, started_at, ended_at, processing_errors
		FROM sessions WHERE id=?`, id)

	var sess model.Session
	var cfg, state, createdAt string
	var startedAt, endedAt sql.NullString
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Description, &cfg, &state,
		&createdAt, &startedAt, &endedAt, &sess.ProcessingErrors); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.SessionNotFound, "session not found", map[string]any{"session_id": id})
		}
		return nil, errs.Wrap(errs.StorageUnavailable, "query session", err)
	}
	sess.State = model.SessionState(state)
	sess.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	sess.StartedAt = parseTime(startedAt)
	sess.EndedAt = parseTime(endedAt)
	if err := json.Unmarshal([]byte(cfg), &sess.Config); err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "unmarshal session config", err)
	}
	return &sess, nil
}

func (s *Store) Update(ctx context.Context, sess *model.Session) error {
	cfg, err := json.Marshal(sess.Config)
	if err != nil {
		return errs.Wrap(errs.StorageUnavailable, "marshal session config", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET user_id=?, title=?, description=?, config=?, state=?, started_at=?, ended_at=?, processing_errors=?
		WHERE id=?`,
		sess.UserID, sess.Title, sess.Description, string(cfg), string(sess.State),
		formatTime(sess.StartedAt), formatTime(sess.EndedAt), sess.ProcessingErrors, sess.ID)
	if err != nil {
		return errs.Wrap(errs.StorageUnavailable, "update session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.SessionNotFound, "session not found", map[string]any{"session_id": sess.ID})
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	if err != nil {
		return errs.Wrap(errs.StorageUnavailable, "delete session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.SessionNotFound, "session not found", map[string]any{"session_id": id})
	}
	return nil
}

func (s *Store) List(ctx context.Context, q session.ListQuery) ([]*model.Session, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, description, config, state, created_at, started_at, ended_at, processing_errors
		FROM sessions
		WHERE (? = '' OR user_id = ?) AND (? = '' OR state = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`,
		q.UserID, q.UserID, string(q.Status), string(q.Status), limit, q.Offset)
	if err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "list sessions", err)
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		var sess model.Session
		var cfg, state, createdAt string
		var startedAt, endedAt sql.NullString
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Description, &cfg, &state,
			&createdAt, &startedAt, &endedAt, &sess.ProcessingErrors); err != nil {
			return nil, errs.Wrap(errs.StorageUnavailable, "scan session", err)
		}
		sess.State = model.SessionState(state)
		sess.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		sess.StartedAt = parseTime(startedAt)
		sess.EndedAt = parseTime(endedAt)
		_ = json.Unmarshal([]byte(cfg), &sess.Config)
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func (s *Store) AppendFeedback(ctx context.Context, sessionID string, item model.FeedbackItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_items (id, session_id, type, severity, short_message, actionable_suggestion,
			confidence, source, produced_at, metric_value, target_range, priority)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		item.ID, sessionID, string(item.Type), string(item.Severity), item.ShortMessage, item.ActionableSuggestion,
		item.Confidence, string(item.Source), item.ProducedAt.Format(timeLayout), item.MetricValue, item.TargetRange, item.Priority)
	if err != nil {
		return errs.Wrap(errs.StorageUnavailable, "append feedback", err)
	}
	return nil
}

func (s *Store) ListFeedback(ctx context.Context, sessionID string, q session.FeedbackQuery) ([]model.FeedbackItem, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, severity, short_message, actionable_suggestion, confidence, source, produced_at,
			metric_value, target_range, priority
		FROM feedback_items
		WHERE session_id=? AND (? = '' OR type = ?)
		ORDER BY produced_at ASC
		LIMIT ? OFFSET ?`,
		sessionID, string(q.Type), string(q.Type), limit, q.Offset)
	if err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "list feedback", err)
	}
	defer rows.Close()

	var out []model.FeedbackItem
	for rows.Next() {
		var item model.FeedbackItem
		var typ, sev, src, producedAt string
		var targetRange, priority sql.NullString
		var metricVal sql.NullFloat64
		if err := rows.Scan(&item.ID, &typ, &sev, &item.ShortMessage, &item.ActionableSuggestion,
			&item.Confidence, &src, &producedAt, &metricVal, &targetRange, &priority); err != nil {
			return nil, errs.Wrap(errs.StorageUnavailable, "scan feedback", err)
		}
		item.Type = model.FeedbackType(typ)
		item.Severity = model.FeedbackSeverity(sev)
		item.Source = model.FeedbackSource(src)
		item.ProducedAt, _ = time.Parse(timeLayout, producedAt)
		if metricVal.Valid {
			item.MetricValue = metricVal.Float64
		}
		if targetRange.Valid {
			item.TargetRange = targetRange.String
		}
		if priority.Valid {
			item.Priority = priority.String
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
