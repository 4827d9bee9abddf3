package bank

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-qbank/internal/question"
)

// SQLStore keeps questions, their options and tags as relational rows.
// Placeholders are $n, which both pgx and modernc sqlite accept.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const questionCols = `q.id,q.purpose,q.type,q.prompt,q.skills_json,q.level,q.marks,q.media_kind,q.media_path,q.rating_scale,q.rating_symbol,q.status,q.created_at,q.updated_at`

func (s *SQLStore) InsertQuestion(ctx context.Context, tenantID string, q question.Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	skills, scale, symbol, mediaKind, mediaPath, err := questionColumns(q)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO questions
		(id,tenant_id,purpose,type,prompt,skills_json,level,marks,media_kind,media_path,rating_scale,rating_symbol,status,seq,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,(SELECT COALESCE(MAX(seq),0)+1 FROM questions),$14,$15)`,
		q.ID, tenantID, string(q.Purpose), string(q.Type), q.Prompt, skills, string(q.Level), q.Marks,
		mediaKind, mediaPath, scale, symbol, string(q.Status), q.CreatedAt.UnixMilli(), q.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	if err := writeChildren(ctx, tx, q); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) UpdateQuestion(ctx context.Context, tenantID string, q question.Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	skills, scale, symbol, mediaKind, mediaPath, err := questionColumns(q)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE questions SET
		type=$1, prompt=$2, skills_json=$3, level=$4, marks=$5, media_kind=$6, media_path=$7,
		rating_scale=$8, rating_symbol=$9, status=$10, updated_at=$11
		WHERE id=$12 AND tenant_id=$13`,
		string(q.Type), q.Prompt, skills, string(q.Level), q.Marks, mediaKind, mediaPath,
		scale, symbol, string(q.Status), q.UpdatedAt.UnixMilli(), q.ID, tenantID)
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM options WHERE question_id=$1`, q.ID); err != nil {
		return fmt.Errorf("clear options: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM question_tags WHERE question_id=$1`, q.ID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	if err := writeChildren(ctx, tx, q); err != nil {
		return err
	}
	return tx.Commit()
}

func questionColumns(q question.Question) (skills string, scale int, symbol, mediaKind, mediaPath string, err error) {
	b, err := json.Marshal(q.Skills)
	if err != nil {
		return "", 0, "", "", "", err
	}
	if r, ok := q.Rating(); ok {
		scale, symbol = r.Scale, string(r.Symbol)
	}
	if q.Media != nil {
		mediaKind, mediaPath = string(q.Media.Kind), q.Media.Path
	}
	return string(b), scale, symbol, mediaKind, mediaPath, nil
}

func writeChildren(ctx context.Context, tx execer, q question.Question) error {
	for i, t := range q.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO question_tags (question_id,tag,label,position) VALUES ($1,$2,$3,$4)`,
			q.ID, strings.ToLower(t), t, i); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	for _, o := range q.Options().Options() {
		var kind, path string
		if o.Media != nil {
			kind, path = string(o.Media.Kind), o.Media.Path
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO options (id,question_id,position,text,is_correct,media_kind,media_path) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			o.ID, q.ID, o.Index, o.Text, o.IsCorrect, kind, path); err != nil {
			return fmt.Errorf("insert option: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) GetQuestion(ctx context.Context, tenantID, id string) (question.Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+questionCols+` FROM questions q WHERE q.id=$1 AND q.tenant_id=$2`, id, tenantID)
	if err != nil {
		return question.Question{}, fmt.Errorf("get question: %w", err)
	}
	qs, err := s.scanQuestions(ctx, rows)
	if err != nil {
		return question.Question{}, err
	}
	if len(qs) == 0 {
		return question.Question{}, ErrNotFound
	}
	return qs[0], nil
}

func (s *SQLStore) SearchQuestions(ctx context.Context, tenantID string, f Filter, offset, limit int) ([]question.Question, int, error) {
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	where := []string{"q.tenant_id=" + arg(tenantID)}
	if f.Purpose != "" {
		where = append(where, "q.purpose="+arg(string(f.Purpose)))
	}
	if f.Type != "" {
		where = append(where, "q.type="+arg(string(f.Type)))
	}
	if f.Status != "" {
		where = append(where, "q.status="+arg(string(f.Status)))
	}
	if f.Text != "" {
		where = append(where, `LOWER(q.prompt) LIKE `+arg("%"+escapeLike(strings.ToLower(f.Text))+"%")+` ESCAPE '\'`)
	}
	if len(f.Tags) > 0 {
		ph := make([]string, 0, len(f.Tags))
		for _, t := range f.Tags {
			ph = append(ph, arg(strings.ToLower(strings.TrimSpace(t))))
		}
		where = append(where, `EXISTS (SELECT 1 FROM question_tags t WHERE t.question_id=q.id AND t.tag IN (`+strings.Join(ph, ",")+`))`)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions q WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count questions: %w", err)
	}

	order := "q.seq ASC"
	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	switch f.Sort {
	case SortCreatedAt:
		order = "q.created_at " + dir + ", q.seq ASC"
	case SortPrompt:
		order = "LOWER(q.prompt) " + dir + ", q.seq ASC"
	}
	query := `SELECT ` + questionCols + ` FROM questions q WHERE ` + cond +
		` ORDER BY ` + order + ` LIMIT ` + arg(limit) + ` OFFSET ` + arg(offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search questions: %w", err)
	}
	qs, err := s.scanQuestions(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	return qs, total, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// scanQuestions drains rows before loading children so a single-connection
// pool never needs two open cursors.
func (s *SQLStore) scanQuestions(ctx context.Context, rows *sql.Rows) ([]question.Question, error) {
	type scanned struct {
		q      question.Question
		scale  int
		symbol string
	}
	var list []scanned
	for rows.Next() {
		var (
			sc                           scanned
			purpose, typ, level, status  string
			skills, mediaKind, mediaPath string
			createdAt, updatedAt         int64
		)
		if err := rows.Scan(&sc.q.ID, &purpose, &typ, &sc.q.Prompt, &skills, &level, &sc.q.Marks,
			&mediaKind, &mediaPath, &sc.scale, &sc.symbol, &status, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan question: %w", err)
		}
		sc.q.Purpose = question.Purpose(purpose)
		sc.q.Type = question.Type(typ)
		sc.q.Level = question.Level(level)
		sc.q.Status = question.Status(status)
		sc.q.CreatedAt = time.UnixMilli(createdAt).UTC()
		sc.q.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		if mediaPath != "" {
			sc.q.Media = &question.Media{Kind: question.MediaKind(mediaKind), Path: mediaPath}
		}
		if skills != "" && skills != "null" {
			if err := json.Unmarshal([]byte(skills), &sc.q.Skills); err != nil {
				rows.Close()
				return nil, fmt.Errorf("decode skills: %w", err)
			}
		}
		list = append(list, sc)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	out := make([]question.Question, 0, len(list))
	for _, sc := range list {
		tags, err := s.loadTags(ctx, sc.q.ID)
		if err != nil {
			return nil, err
		}
		sc.q.Tags = tags
		opts, err := s.loadOptions(ctx, sc.q.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, question.Restore(sc.q, opts, sc.scale, question.RatingSymbol(sc.symbol)))
	}
	return out, nil
}

func (s *SQLStore) loadTags(ctx context.Context, questionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT label FROM question_tags WHERE question_id=$1 ORDER BY position`, questionID)
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) loadOptions(ctx context.Context, questionID string) ([]question.Option, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,position,text,is_correct,media_kind,media_path FROM options WHERE question_id=$1 ORDER BY position`, questionID)
	if err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}
	defer rows.Close()
	var out []question.Option
	for rows.Next() {
		var o question.Option
		var kind, path string
		if err := rows.Scan(&o.ID, &o.Index, &o.Text, &o.IsCorrect, &kind, &path); err != nil {
			return nil, err
		}
		if path != "" {
			o.Media = &question.Media{Kind: question.MediaKind(kind), Path: path}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLStore) PutAssessment(ctx context.Context, a Assessment) error {
	ids, err := json.Marshal(a.QuestionIDs)
	if err != nil {
		return err
	}
	var due sql.NullInt64
	if a.DueAt != nil {
		due = sql.NullInt64{Int64: a.DueAt.UnixMilli(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO assessments
		(id,tenant_id,purpose,title,question_ids_json,time_limit_minutes,passing_percentage,due_at,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, question_ids_json=EXCLUDED.question_ids_json,
		time_limit_minutes=EXCLUDED.time_limit_minutes, passing_percentage=EXCLUDED.passing_percentage, due_at=EXCLUDED.due_at`,
		a.ID, a.TenantID, string(a.Purpose), a.Title, string(ids), a.TimeLimitMinutes, a.PassingPercentage, due, a.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("put assessment: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAssessment(ctx context.Context, tenantID, id string) (Assessment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,tenant_id,purpose,title,question_ids_json,time_limit_minutes,passing_percentage,due_at,created_at
		FROM assessments WHERE id=$1 AND tenant_id=$2`, id, tenantID)
	var (
		a            Assessment
		purpose, ids string
		due          sql.NullInt64
		createdAt    int64
	)
	if err := row.Scan(&a.ID, &a.TenantID, &purpose, &a.Title, &ids, &a.TimeLimitMinutes, &a.PassingPercentage, &due, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Assessment{}, ErrNotFound
		}
		return Assessment{}, fmt.Errorf("get assessment: %w", err)
	}
	a.Purpose = question.Purpose(purpose)
	a.CreatedAt = time.UnixMilli(createdAt).UTC()
	if due.Valid {
		t := time.UnixMilli(due.Int64).UTC()
		a.DueAt = &t
	}
	if err := json.Unmarshal([]byte(ids), &a.QuestionIDs); err != nil {
		return Assessment{}, fmt.Errorf("decode question ids: %w", err)
	}
	return a, nil
}
