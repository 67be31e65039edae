// Package postgres adapts session.Store onto a Postgres backend via
// pgx, applying embedded migrations on startup (grounded on the
// teacher's call-trace store's embed-and-run-migrations pattern).
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hubenschmidt/coachserver/internal/errs"
	"github.com/hubenschmidt/coachserver/internal/model"
	"github.com/hubenschmidt/coachserver/internal/session"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements session.Store against Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn and applies any pending migrations.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
			return err
		}
		for _, name := range names {
			version := versionOf(name)
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists); err != nil {
				return err
			}
			if exists {
				continue
			}
			sqlBytes, err := migrationsFS.ReadFile("migrations/" + name)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
				return fmt.Errorf("postgres: apply %s: %w", name, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
				return err
			}
		}
		return nil
	})
}

func versionOf(filename string) int {
	n := strings.SplitN(filename, "_", 2)[0]
	v, _ := strconv.Atoi(n)
	return v
}

func (s *Store) Create(ctx context.Context, sess *model.Session) error {
	cfg, err := json.Marshal(sess.Config)
	if err != nil {
		return errs.Wrap(errs.StorageUnavailable, "marshal session config", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, title, description, config, state, created_at, started_at, ended_at, processing_errors)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sess.ID, sess.UserID, sess.Title, sess.Description, cfg, string(sess.State),
		sess.CreatedAt, sess.StartedAt, sess.EndedAt, sess.ProcessingErrors)
	if err != nil {
		return errs.Wrap(errs.StorageUnavailable, "insert session", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, title, description, config, state, created_at, started_at, ended_at, processing_errors
		FROM sessions WHERE id=$1`, id)

	var sess model.Session
	var cfg []byte
	var state string
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Description, &cfg, &state,
		&sess.CreatedAt, &sess.StartedAt, &sess.EndedAt, &sess.ProcessingErrors); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.SessionNotFound, "session not found", map[string]any{"session_id": id})
		}
		return nil, errs.Wrap(errs.StorageUnavailable, "query session", err)
	}
	sess.State = model.SessionState(state)
	if err := json.Unmarshal(cfg, &sess.Config); err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "unmarshal session config", err)
	}
	return &sess, nil
}

func (s *Store) Update(ctx context.Context, sess *model.Session) error {
	cfg, err := json.Marshal(sess.Config)
	if err != nil {
		return errs.Wrap(errs.StorageUnavailable, "marshal session config", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET user_id=$2, title=$3, description=$4, config=$5, state=$6,
			started_at=$7, ended_at=$8, processing_errors=$9
		WHERE id=$1`,
		sess.ID, sess.UserID, sess.Title, sess.Description, cfg, string(sess.State),
		sess.StartedAt, sess.EndedAt, sess.ProcessingErrors)
	if err != nil {
		return errs.Wrap(errs.StorageUnavailable, "update session", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.SessionNotFound, "session not found", map[string]any{"session_id": sess.ID})
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id=$1`, id)
	if err != nil {
		return errs.Wrap(errs.StorageUnavailable, "delete session", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.SessionNotFound, "session not found", map[string]any{"session_id": id})
	}
	return nil
}

func (s *Store) List(ctx context.Context, q session.ListQuery) ([]*model.Session, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, description, config, state, created_at, started_at, ended_at, processing_errors
		FROM sessions
		WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR state = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		q.UserID, string(q.Status), limit, q.Offset)
	if err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "list sessions", err)
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		var sess model.Session
		var cfg []byte
		var state string
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Description, &cfg, &state,
			&sess.CreatedAt, &sess.StartedAt, &sess.EndedAt, &sess.ProcessingErrors); err != nil {
			return nil, errs.Wrap(errs.StorageUnavailable, "scan session", err)
		}
		sess.State = model.SessionState(state)
		_ = json.Unmarshal(cfg, &sess.Config)
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func (s *Store) AppendFeedback(ctx context.Context, sessionID string, item model.FeedbackItem) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feedback_items (id, session_id, type, severity, short_message, actionable_suggestion,
			confidence, source, produced_at, metric_value, target_range, priority)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		item.ID, sessionID, string(item.Type), string(item.Severity), item.ShortMessage, item.ActionableSuggestion,
		item.Confidence, string(item.Source), item.ProducedAt, item.MetricValue, item.TargetRange, item.Priority)
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
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, severity, short_message, actionable_suggestion, confidence, source, produced_at,
			metric_value, target_range, priority
		FROM feedback_items
		WHERE session_id=$1 AND ($2 = '' OR type = $2)
		ORDER BY produced_at ASC
		LIMIT $3 OFFSET $4`,
		sessionID, string(q.Type), limit, q.Offset)
	if err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "list feedback", err)
	}
	defer rows.Close()

	var out []model.FeedbackItem
	for rows.Next() {
		var item model.FeedbackItem
		var typ, sev, src string
		if err := rows.Scan(&item.ID, &typ, &sev, &item.ShortMessage, &item.ActionableSuggestion,
			&item.Confidence, &src, &item.ProducedAt, &item.MetricValue, &item.TargetRange, &item.Priority); err != nil {
			return nil, errs.Wrap(errs.StorageUnavailable, "scan feedback", err)
		}
		item.Type = model.FeedbackType(typ)
		item.Severity = model.FeedbackSeverity(sev)
		item.Source = model.FeedbackSource(src)
		out = append(out, item)
	}
	return out, rows.Err()
}
