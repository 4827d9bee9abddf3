package grading

import (
	"context"
	"errors"
	"fmt"

	"github.com/mind-engage/mindengage-qbank/internal/capture"
	"github.com/mind-engage/mindengage-qbank/internal/question"
)

var ErrResponseMismatch = errors.New("response does not match question")

// Result is the outcome of grading a single question response.
type Result struct {
	AutoPoints  float64  // points awarded automatically
	MaxPoints   float64  // the question's max points
	NeedsManual bool     // true if teacher review is required
	Feedback    []string // optional notes
}

// Strategy grades a single question.
type Strategy interface {
	Grade(ctx context.Context, q question.Question, r capture.Response) (Result, error)
}

// Grader routes by question type to the correct Strategy.
type Grader interface {
	Grade(ctx context.Context, q question.Question, r capture.Response) (Result, error)
}

type defaultGrader struct {
	strategies map[question.Type]Strategy
}

func (g *defaultGrader) Grade(ctx context.Context, q question.Question, r capture.Response) (Result, error) {
	if r.QuestionID != q.ID || r.Type != q.Type {
		return Result{}, fmt.Errorf("%w: %s", ErrResponseMismatch, q.ID)
	}
	s, ok := g.strategies[q.Type]
	if !ok {
		return Result{MaxPoints: float64(q.Marks), NeedsManual: true, Feedback: []string{"no strategy available"}}, nil
	}
	return s.Grade(ctx, q, r)
}

// Engine options

type Option func(*config)

type config struct {
	AllowPartialMulti bool // partial credit for checkbox without false positives
}

// WithPartialMulti enables proportional credit on checkbox questions. Off by
// default: a checkbox answer earns full marks or nothing.
func WithPartialMulti(b bool) Option { return func(c *config) { c.AllowPartialMulti = b } }

// NewDefaultGrader installs built-in strategies.
func NewDefaultGrader(opts ...Option) Grader {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	return &defaultGrader{
		strategies: map[question.Type]Strategy{
			question.TypeMultiChoice: singleChoiceStrategy{},
			question.TypeDropdown:    singleChoiceStrategy{},
			question.TypeCheckbox:    multiChoiceStrategy{allowPartial: cfg.AllowPartialMulti},
			question.TypeShortAnswer: manualStrategy{},
			question.TypeLongAnswer:  manualStrategy{},
			question.TypeUpload:      manualStrategy{},
		},
	}
}

// --- Strategies ---

type singleChoiceStrategy struct{}

func (singleChoiceStrategy) Grade(_ context.Context, q question.Question, r capture.Response) (Result, error) {
	res := Result{MaxPoints: float64(q.Marks)}
	correct := q.Options().CorrectIDs()
	if len(correct) != 1 {
		return res, fmt.Errorf("question %s: expected one correct option, have %d", q.ID, len(correct))
	}
	if r.OptionID == correct[0] {
		res.AutoPoints = res.MaxPoints
	}
	return res, nil
}

type multiChoiceStrategy struct{ allowPartial bool }

func (s multiChoiceStrategy) Grade(_ context.Context, q question.Question, r capture.Response) (Result, error) {
	res := Result{MaxPoints: float64(q.Marks)}
	correct := toSet(q.Options().CorrectIDs())
	resp := toSet(r.OptionIDs)

	if setEqual(correct, resp) {
		res.AutoPoints = res.MaxPoints
		return res, nil
	}
	hasFalsePositive := false
	for k := range resp {
		if _, ok := correct[k]; !ok {
			hasFalsePositive = true
			break
		}
	}
	if s.allowPartial && !hasFalsePositive && len(correct) > 0 {
		inter := 0
		for k := range resp {
			if _, ok := correct[k]; ok {
				inter++
			}
		}
		res.AutoPoints = res.MaxPoints * (float64(inter) / float64(len(correct)))
		res.Feedback = append(res.Feedback, fmt.Sprintf("partial: %d/%d", inter, len(correct)))
	}
	return res, nil
}

type manualStrategy struct{}

func (manualStrategy) Grade(_ context.Context, q question.Question, _ capture.Response) (Result, error) {
	return Result{MaxPoints: float64(q.Marks), NeedsManual: true, Feedback: []string{"manual grading required"}}, nil
}

// helpers

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[s] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
