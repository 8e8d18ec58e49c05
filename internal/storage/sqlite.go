package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "matchbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Enqueue(ctx context.Context, a QueueAction) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	now := time.Now()
	if a.ScheduledAt.IsZero() {
		a.ScheduledAt = now
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	payload, err := marshalPayload(a.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO queue_actions(id, actor_id, target_id, action_type, status, retry_count,
		   payload, error_message, llm_model, llm_response, scheduled_at, executed_at, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ActorID, a.TargetID, string(a.Type), string(a.Status), a.RetryCount,
		payload, nullStr(a.ErrorMessage), nullStr(a.Model), nullStr(a.RawResponse),
		a.ScheduledAt.UnixMilli(), nullTime(a.ExecutedAt), a.CreatedAt.UnixMilli(), now.UnixMilli(),
	)
	return err
}

const queueCols = `id, actor_id, target_id, action_type, status, retry_count,
	payload, error_message, llm_model, llm_response, scheduled_at, executed_at, created_at, updated_at`

func (s *sqliteStore) Due(ctx context.Context, now time.Time, limit int) ([]QueueAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueCols+` FROM queue_actions
		 WHERE status = ? AND scheduled_at <= ?
		 ORDER BY scheduled_at ASC
		 LIMIT ?`,
		string(StatusPending), now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueueAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_actions SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusProcessing), time.Now().UnixMilli(), id, string(StatusPending),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) Complete(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue_actions SET status = ?, executed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusCompleted), at.UnixMilli(), at.UnixMilli(), id, string(StatusProcessing),
	)
	return err
}

func (s *sqliteStore) Reschedule(ctx context.Context, id string, retryCount int, at time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue_actions SET status = ?, retry_count = ?, scheduled_at = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusPending), retryCount, at.UnixMilli(), TruncateError(errMsg), time.Now().UnixMilli(),
		id, string(StatusProcessing),
	)
	return err
}

func (s *sqliteStore) Fail(ctx context.Context, id string, retryCount int, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue_actions SET status = ?, retry_count = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusFailed), retryCount, TruncateError(errMsg), time.Now().UnixMilli(),
		id, string(StatusProcessing),
	)
	return err
}

func (s *sqliteStore) SetDecision(ctx context.Context, id, decision, reason, model string) error {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM queue_actions WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("queue action %s not found", id)
	}
	if err != nil {
		return err
	}

	payload := map[string]string{}
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &payload); err != nil {
			// A malformed bag is replaced rather than poisoning the update.
			payload = map[string]string{}
		}
	}
	payload["decision"] = decision
	payload["reason"] = reason

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE queue_actions SET payload = ?, llm_model = ?, llm_response = ?, updated_at = ?
		 WHERE id = ?`,
		string(b), nullStr(model), nullStr(reason), time.Now().UnixMilli(), id,
	)
	return err
}

func (s *sqliteStore) Settings(ctx context.Context, actorID string) (ActorSettings, bool, error) {
	var (
		st           ActorSettings
		minMS, maxMS int64
		enabled      int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT actor_id, response_rate, chattiness, min_delay_ms, max_delay_ms,
		        active_from, active_to, temperature, enabled
		 FROM actor_settings WHERE actor_id = ?`, actorID,
	).Scan(&st.ActorID, &st.ResponseRate, &st.Chattiness, &minMS, &maxMS,
		&st.ActiveFrom, &st.ActiveTo, &st.Temperature, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return ActorSettings{}, false, nil
	}
	if err != nil {
		return ActorSettings{}, false, err
	}
	st.MinDelay = time.Duration(minMS) * time.Millisecond
	st.MaxDelay = time.Duration(maxMS) * time.Millisecond
	st.Enabled = enabled != 0
	return st, true, nil
}

func (s *sqliteStore) Profile(ctx context.Context, id string) (Profile, bool, error) {
	var (
		p                          Profile
		personality, location, job sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, nickname, birth_date, gender, bio, interests, personality, location, job
		 FROM profiles WHERE id = ?`, id,
	).Scan(&p.ID, &p.Nickname, &p.BirthDate, &p.Gender, &p.Bio, &p.Interests,
		&personality, &location, &job)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, err
	}
	p.Personality = personality.String
	p.Location = location.String
	p.Job = job.String
	return p, true, nil
}

func (s *sqliteStore) HasOutcome(ctx context.Context, actorID, targetID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM user_actions WHERE actor_id = ? AND target_id = ?`,
		actorID, targetID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) InsertOutcome(ctx context.Context, o Outcome) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.At.IsZero() {
		o.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_actions(id, actor_id, target_id, action, created_at) VALUES(?,?,?,?,?)`,
		o.ID, o.ActorID, o.TargetID, o.Action, o.At.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) AppendActivity(ctx context.Context, e ActivityEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_logs(id, actor_id, target_id, activity_type, reason, llm_model, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		e.ID, e.ActorID, e.TargetID, e.Activity, nullStr(e.Reason), nullStr(e.Model), e.At.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) TerminalCounts(ctx context.Context) (completed, failed int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT
		   COUNT(CASE WHEN status = ? THEN 1 END),
		   COUNT(CASE WHEN status = ? THEN 1 END)
		 FROM queue_actions`,
		string(StatusCompleted), string(StatusFailed),
	).Scan(&completed, &failed)
	return completed, failed, err
}

// ---- scanning helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(r rowScanner) (QueueAction, error) {
	var (
		a                               QueueAction
		typ, status                     string
		payload, errMsg, model, rawResp sql.NullString
		schedMS, createdMS, updatedMS   int64
		executedMS                      sql.NullInt64
	)
	err := r.Scan(&a.ID, &a.ActorID, &a.TargetID, &typ, &status, &a.RetryCount,
		&payload, &errMsg, &model, &rawResp, &schedMS, &executedMS, &createdMS, &updatedMS)
	if err != nil {
		return QueueAction{}, err
	}
	a.Type = ActionType(typ)
	a.Status = ActionStatus(status)
	a.ErrorMessage = errMsg.String
	a.Model = model.String
	a.RawResponse = rawResp.String
	a.ScheduledAt = time.UnixMilli(schedMS)
	a.CreatedAt = time.UnixMilli(createdMS)
	a.UpdatedAt = time.UnixMilli(updatedMS)
	if executedMS.Valid {
		a.ExecutedAt = time.UnixMilli(executedMS.Int64)
	}
	if payload.Valid && payload.String != "" {
		m := map[string]string{}
		if err := json.Unmarshal([]byte(payload.String), &m); err == nil {
			a.Payload = m
		}
	}
	return a, nil
}

func marshalPayload(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
