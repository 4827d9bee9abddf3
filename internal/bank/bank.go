package bank

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-qbank/internal/metrics"
	"github.com/mind-engage/mindengage-qbank/internal/question"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrNoQuestions = errors.New("assessment has no active questions")
)

const DefaultPageSize = 10

type SortKey string

const (
	SortInsertion SortKey = ""
	SortCreatedAt SortKey = "created_at"
	SortPrompt    SortKey = "prompt"
)

// ParseSort reads "prompt", "-prompt", "created_at", "-created_at". Unknown
// keys fall back to insertion order.
func ParseSort(s string) (SortKey, bool) {
	s = strings.TrimSpace(s)
	desc := strings.HasPrefix(s, "-")
	switch SortKey(strings.TrimPrefix(s, "-")) {
	case SortCreatedAt:
		return SortCreatedAt, desc
	case SortPrompt:
		return SortPrompt, desc
	}
	return SortInsertion, false
}

// Filter narrows a search. Zero fields do not filter.
type Filter struct {
	Purpose question.Purpose
	Text    string
	Type    question.Type
	Tags    []string
	Status  question.Status
	Sort    SortKey
	Desc    bool
}

// Page is one page of search results; TotalCount counts every match.
type Page struct {
	Items      []question.Question `json:"items"`
	TotalCount int                 `json:"totalCount"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"pageSize"`
}

// Assessment is the stored configuration a learner starts an attempt from.
// QuestionIDs is the fixed, pre-selected question list.
type Assessment struct {
	ID                string           `json:"id"`
	TenantID          string           `json:"tenant_id"`
	Purpose           question.Purpose `json:"purpose"`
	Title             string           `json:"title"`
	QuestionIDs       []string         `json:"question_ids"`
	TimeLimitMinutes  int              `json:"time_limit_minutes"`
	PassingPercentage float64          `json:"passing_percentage"`
	DueAt             *time.Time       `json:"due_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

type AssessmentDraft struct {
	Purpose           question.Purpose `json:"purpose" validate:"required,oneof=assessment survey feedback"`
	Title             string           `json:"title" validate:"required,max=200"`
	QuestionIDs       []string         `json:"question_ids" validate:"required,min=1,dive,required"`
	TimeLimitMinutes  int              `json:"time_limit_minutes" validate:"min=0,max=1440"`
	PassingPercentage *float64         `json:"passing_percentage,omitempty" validate:"omitempty,min=0,max=100"`
	DueAt             *time.Time       `json:"due_at,omitempty"`
}

type Store interface {
	InsertQuestion(ctx context.Context, tenantID string, q question.Question) error
	UpdateQuestion(ctx context.Context, tenantID string, q question.Question) error
	GetQuestion(ctx context.Context, tenantID, id string) (question.Question, error)
	SearchQuestions(ctx context.Context, tenantID string, f Filter, offset, limit int) ([]question.Question, int, error)

	PutAssessment(ctx context.Context, a Assessment) error
	GetAssessment(ctx context.Context, tenantID, id string) (Assessment, error)
}

// Bank is the question bank service for every tenant and purpose.
type Bank struct {
	store    Store
	rules    question.Rules
	pageSize int
	passing  float64
	log      *zap.Logger
	metrics  *metrics.Metrics
	newID    func() string
	now      func() time.Time
}

type Option func(*Bank)

func WithRules(r question.Rules) Option      { return func(b *Bank) { b.rules = r } }
func WithPageSize(n int) Option              { return func(b *Bank) { b.pageSize = n } }
func WithPassingPercentage(p float64) Option { return func(b *Bank) { b.passing = p } }
func WithLogger(l *zap.Logger) Option        { return func(b *Bank) { b.log = l } }
func WithMetrics(m *metrics.Metrics) Option  { return func(b *Bank) { b.metrics = m } }
func WithClock(now func() time.Time) Option  { return func(b *Bank) { b.now = now } }
func WithIDs(gen func() string) Option       { return func(b *Bank) { b.newID = gen } }

func New(store Store, opts ...Option) *Bank {
	b := &Bank{
		store:    store,
		rules:    question.DefaultRules,
		pageSize: DefaultPageSize,
		passing:  40,
		log:      zap.NewNop(),
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bank) Add(ctx context.Context, tenantID string, d question.Draft) (question.Question, error) {
	q, err := b.rules.New(b.newID(), d)
	if err != nil {
		b.log.Debug("question rejected", zap.String("tenant", tenantID), zap.Error(err))
		return question.Question{}, err
	}
	now := b.now().UTC()
	q.CreatedAt, q.UpdatedAt = now, now
	if err := b.store.InsertQuestion(ctx, tenantID, q); err != nil {
		return question.Question{}, err
	}
	b.metrics.QuestionWritten("create")
	b.log.Info("question created",
		zap.String("tenant", tenantID), zap.String("id", q.ID),
		zap.String("purpose", string(q.Purpose)), zap.String("type", string(q.Type)))
	return q, nil
}

// Update replaces the question wholesale. Concurrent edits are last-write-wins.
func (b *Bank) Update(ctx context.Context, tenantID, id string, d question.Draft) (question.Question, error) {
	cur, err := b.store.GetQuestion(ctx, tenantID, id)
	if err != nil {
		return question.Question{}, err
	}
	next, err := b.rules.Replace(cur, d)
	if err != nil {
		return question.Question{}, err
	}
	next.UpdatedAt = b.now().UTC()
	if err := b.store.UpdateQuestion(ctx, tenantID, next); err != nil {
		return question.Question{}, err
	}
	b.metrics.QuestionWritten("update")
	b.log.Info("question updated", zap.String("tenant", tenantID), zap.String("id", id))
	return next, nil
}

// Deactivate soft-deletes a question. Rows are never purged because attempt
// snapshots may still refer to them.
func (b *Bank) Deactivate(ctx context.Context, tenantID, id string) error {
	cur, err := b.store.GetQuestion(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if cur.Status == question.StatusInactive {
		return nil
	}
	cur.Status = question.StatusInactive
	cur.UpdatedAt = b.now().UTC()
	if err := b.store.UpdateQuestion(ctx, tenantID, cur); err != nil {
		return err
	}
	b.metrics.QuestionWritten("deactivate")
	b.log.Info("question deactivated", zap.String("tenant", tenantID), zap.String("id", id))
	return nil
}

func (b *Bank) Get(ctx context.Context, tenantID, id string) (question.Question, error) {
	return b.store.GetQuestion(ctx, tenantID, id)
}

// Search pages through matching questions. page is 1-based; pageSize <= 0
// uses the bank default.
func (b *Bank) Search(ctx context.Context, tenantID string, f Filter, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = b.pageSize
	}
	f.Text = strings.TrimSpace(f.Text)
	items, total, err := b.store.SearchQuestions(ctx, tenantID, f, (page-1)*pageSize, pageSize)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []question.Question{}
	}
	return Page{Items: items, TotalCount: total, Page: page, PageSize: pageSize}, nil
}

func (b *Bank) CreateAssessment(ctx context.Context, tenantID string, d AssessmentDraft) (Assessment, error) {
	if !d.Purpose.Valid() {
		return Assessment{}, &question.FieldError{Field: "purpose", Err: question.ErrInvalidPurpose}
	}
	if strings.TrimSpace(d.Title) == "" {
		return Assessment{}, &question.FieldError{Field: "title", Err: question.ErrMissingRequiredField}
	}
	if len(d.QuestionIDs) == 0 {
		return Assessment{}, &question.FieldError{Field: "question_ids", Err: question.ErrMissingRequiredField}
	}
	seen := make(map[string]struct{}, len(d.QuestionIDs))
	ids := make([]string, 0, len(d.QuestionIDs))
	for _, id := range d.QuestionIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		q, err := b.store.GetQuestion(ctx, tenantID, id)
		if err != nil {
			return Assessment{}, err
		}
		if q.Purpose != d.Purpose {
			return Assessment{}, &question.FieldError{Field: "question_ids", Err: question.ErrInvalidPurpose}
		}
		ids = append(ids, id)
	}
	a := Assessment{
		ID:                b.newID(),
		TenantID:          tenantID,
		Purpose:           d.Purpose,
		Title:             strings.TrimSpace(d.Title),
		QuestionIDs:       ids,
		TimeLimitMinutes:  d.TimeLimitMinutes,
		PassingPercentage: b.passing,
		DueAt:             d.DueAt,
		CreatedAt:         b.now().UTC(),
	}
	if d.PassingPercentage != nil {
		a.PassingPercentage = *d.PassingPercentage
	}
	if err := b.store.PutAssessment(ctx, a); err != nil {
		return Assessment{}, err
	}
	b.log.Info("assessment created", zap.String("tenant", tenantID), zap.String("id", a.ID), zap.Int("questions", len(ids)))
	return a, nil
}

func (b *Bank) GetAssessment(ctx context.Context, tenantID, id string) (Assessment, error) {
	return b.store.GetAssessment(ctx, tenantID, id)
}

// Select resolves the assessment's fixed question list into independent
// copies, skipping questions deactivated since the assessment was built.
func (b *Bank) Select(ctx context.Context, a Assessment) ([]question.Question, error) {
	out := make([]question.Question, 0, len(a.QuestionIDs))
	for _, id := range a.QuestionIDs {
		q, err := b.store.GetQuestion(ctx, a.TenantID, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !q.Active() {
			continue
		}
		out = append(out, q.Clone())
	}
	if len(out) == 0 {
		return nil, ErrNoQuestions
	}
	return out, nil
}
