package attempt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mind-engage/mindengage-qbank/internal/grading"
	"github.com/mind-engage/mindengage-qbank/internal/question"
)

// SQLStore persists attempts with the question snapshot and responses as
// JSON columns, so later bank edits never reach a stored attempt.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

const attemptCols = `id,tenant_id,bank_id,user_id,purpose,status,started_at,time_limit_minutes,deadline,due_at,submitted_at,position,passing_percentage,snapshot_json,responses_json,grades_json,result_json`

type attemptRow struct {
	deadline    int64
	dueAt       sql.NullInt64
	submittedAt sql.NullInt64
	snapshot    string
	responses   string
	grades      string
	result      string
}

func encodeRow(a Attempt) (attemptRow, error) {
	var r attemptRow
	if a.Deadline != nil {
		r.deadline = a.Deadline.UnixMilli()
	}
	r.dueAt = nullMillis(a.DueAt)
	r.submittedAt = nullMillis(a.SubmittedAt)

	b, err := json.Marshal(a.Questions)
	if err != nil {
		return r, fmt.Errorf("encode snapshot: %w", err)
	}
	r.snapshot = string(b)
	if b, err = json.Marshal(a.Responses); err != nil {
		return r, fmt.Errorf("encode responses: %w", err)
	}
	r.responses = string(b)
	r.grades = "{}"
	if len(a.Grades) > 0 {
		if b, err = json.Marshal(a.Grades); err != nil {
			return r, fmt.Errorf("encode grades: %w", err)
		}
		r.grades = string(b)
	}
	if a.Result != nil {
		if b, err = json.Marshal(a.Result); err != nil {
			return r, fmt.Errorf("encode result: %w", err)
		}
		r.result = string(b)
	}
	return r, nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

func (s *SQLStore) Create(ctx context.Context, a Attempt) error {
	r, err := encodeRow(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO attempts (`+attemptCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		a.ID, a.TenantID, a.BankID, a.UserID, string(a.Purpose), string(a.Status),
		a.StartedAt.UnixMilli(), a.TimeLimitMinutes, r.deadline, r.dueAt, r.submittedAt,
		a.Position, a.PassingPercentage, r.snapshot, r.responses, r.grades, r.result)
	if isUniqueViolation(err) {
		return ErrAttemptAlreadyInProgress
	}
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLStore) Save(ctx context.Context, a Attempt, from Status) error {
	r, err := encodeRow(a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE attempts SET
		status=$1, deadline=$2, submitted_at=$3, position=$4,
		responses_json=$5, grades_json=$6, result_json=$7
		WHERE id=$8 AND tenant_id=$9 AND status=$10`,
		string(a.Status), r.deadline, r.submittedAt, a.Position,
		r.responses, r.grades, r.result, a.ID, a.TenantID, string(from))
	if err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	if n > 0 {
		return nil
	}
	var cur string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM attempts WHERE id=$1 AND tenant_id=$2`, a.ID, a.TenantID).Scan(&cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("save attempt: %w", err)
	}
	return ErrAttemptNotActive
}

func (s *SQLStore) Get(ctx context.Context, tenantID, id string) (Attempt, error) {
	return s.one(ctx, `SELECT `+attemptCols+` FROM attempts WHERE id=$1 AND tenant_id=$2`, id, tenantID)
}

func (s *SQLStore) FindActive(ctx context.Context, tenantID, userID, bankID string) (Attempt, error) {
	return s.one(ctx, `SELECT `+attemptCols+` FROM attempts
		WHERE tenant_id=$1 AND user_id=$2 AND bank_id=$3 AND status='in_progress'`, tenantID, userID, bankID)
}

func (s *SQLStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+attemptCols+` FROM attempts
		WHERE status='in_progress' AND deadline > 0 AND deadline <= $1
		ORDER BY deadline LIMIT $2`, now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) one(ctx context.Context, query string, args ...any) (Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrNotFound
	}
	return a, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(sc scanner) (Attempt, error) {
	var (
		a               Attempt
		purpose, status string
		startedAt       int64
		r               attemptRow
	)
	if err := sc.Scan(&a.ID, &a.TenantID, &a.BankID, &a.UserID, &purpose, &status,
		&startedAt, &a.TimeLimitMinutes, &r.deadline, &r.dueAt, &r.submittedAt,
		&a.Position, &a.PassingPercentage, &r.snapshot, &r.responses, &r.grades, &r.result); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, err
		}
		return Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	a.Purpose = question.Purpose(purpose)
	a.Status = Status(status)
	a.StartedAt = time.UnixMilli(startedAt).UTC()
	if r.deadline > 0 {
		t := time.UnixMilli(r.deadline).UTC()
		a.Deadline = &t
	}
	a.DueAt = fromMillis(r.dueAt)
	a.SubmittedAt = fromMillis(r.submittedAt)

	if err := json.Unmarshal([]byte(r.snapshot), &a.Questions); err != nil {
		return Attempt{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(r.responses), &a.Responses); err != nil {
		return Attempt{}, fmt.Errorf("decode responses: %w", err)
	}
	if r.grades != "" && r.grades != "{}" {
		if err := json.Unmarshal([]byte(r.grades), &a.Grades); err != nil {
			return Attempt{}, fmt.Errorf("decode grades: %w", err)
		}
	}
	if r.result != "" {
		a.Result = new(grading.Report)
		if err := json.Unmarshal([]byte(r.result), a.Result); err != nil {
			return Attempt{}, fmt.Errorf("decode result: %w", err)
		}
	}
	return a, nil
}
