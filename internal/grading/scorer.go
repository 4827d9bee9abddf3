package grading

import (
	"context"
	"errors"

	"github.com/mind-engage/mindengage-qbank/internal/capture"
	"github.com/mind-engage/mindengage-qbank/internal/question"
)

var ErrNotGradable = errors.New("question does not take manual grades")

type EntryStatus string

const (
	StatusAuto       EntryStatus = "auto"       // marked by a strategy
	StatusPending    EntryStatus = "pending"    // manually marked type, waiting for a grader
	StatusGraded     EntryStatus = "graded"     // marked by a grader
	StatusUnanswered EntryStatus = "unanswered" // auto-scored type with no response; earns zero
	StatusUnscored   EntryStatus = "unscored"   // type never carries marks (rating)
)

// Entry is the per-question line of a Report. Earned is nil while the
// question waits for manual grading or never carries marks.
type Entry struct {
	Earned   *float64    `json:"earned"`
	Possible float64     `json:"possible"`
	Status   EntryStatus `json:"status"`
	Feedback []string    `json:"feedback,omitempty"`
}

type Report struct {
	PerQuestion map[string]Entry `json:"perQuestion"`
	Total       float64          `json:"total"`
	Possible    float64          `json:"possible"`
	Percentage  float64          `json:"percentage"`
	Passed      bool             `json:"passed"`
	Pending     int              `json:"pending"`
}

// ManualGrade is a grader's mark for one pending question. With a Rubric set,
// Points is replaced by the rubric total over Awarded.
type ManualGrade struct {
	Points  float64            `json:"points"`
	Comment string             `json:"comment,omitempty"`
	Rubric  *Rubric            `json:"rubric,omitempty"`
	Awarded map[string]float64 `json:"awarded,omitempty"`
}

// Scorer turns a snapshot and its responses into a Report. It holds no state
// between calls.
type Scorer struct {
	grader Grader
}

func NewScorer(opts ...Option) *Scorer {
	return &Scorer{grader: NewDefaultGrader(opts...)}
}

// Score marks every question in questions. Only questions with a numeric
// earned value count toward Total and Possible. Free-text and upload
// questions are pending until graded, answered or not, and stay out of the
// percentage until then.
func (s *Scorer) Score(ctx context.Context, questions []question.Question, responses map[string]capture.Response, passing float64, manual map[string]ManualGrade) (Report, error) {
	rep := Report{PerQuestion: make(map[string]Entry, len(questions))}
	for _, q := range questions {
		e, err := s.entry(ctx, q, responses, manual)
		if err != nil {
			return Report{}, err
		}
		rep.PerQuestion[q.ID] = e
		switch {
		case e.Status == StatusPending:
			rep.Pending++
		case e.Earned != nil:
			rep.Total += *e.Earned
			rep.Possible += e.Possible
		}
	}
	if rep.Possible > 0 {
		rep.Percentage = rep.Total / rep.Possible * 100
		rep.Passed = rep.Percentage >= passing
	}
	return rep, nil
}

func (s *Scorer) entry(ctx context.Context, q question.Question, responses map[string]capture.Response, manual map[string]ManualGrade) (Entry, error) {
	desc, err := question.Describe(q.Type)
	if err != nil {
		return Entry{}, err
	}
	possible := float64(q.Marks)
	if !desc.AutoScored && !manualType(desc) {
		return Entry{Status: StatusUnscored}, nil
	}

	r, answered := responses[q.ID]
	if !answered && !manualType(desc) {
		return Entry{Earned: ptr(0), Possible: possible, Status: StatusUnanswered}, nil
	}

	var feedback []string
	if answered {
		res, err := s.grader.Grade(ctx, q, r)
		if err != nil {
			return Entry{}, err
		}
		if !res.NeedsManual {
			return Entry{Earned: ptr(res.AutoPoints), Possible: res.MaxPoints, Status: StatusAuto, Feedback: res.Feedback}, nil
		}
		possible, feedback = res.MaxPoints, res.Feedback
	}

	g, graded := manual[q.ID]
	if !graded {
		return Entry{Possible: possible, Status: StatusPending, Feedback: feedback}, nil
	}
	pts, notes, err := g.points()
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Earned: ptr(clamp(pts, 0, possible)), Possible: possible, Status: StatusGraded, Feedback: notes}
	if g.Comment != "" {
		e.Feedback = append(e.Feedback, g.Comment)
	}
	return e, nil
}

// Gradable reports whether q takes a manual grade.
func Gradable(q question.Question) error {
	desc, err := question.Describe(q.Type)
	if err != nil {
		return err
	}
	if !manualType(desc) {
		return ErrNotGradable
	}
	return nil
}

// CheckGrade reports whether g can be applied to q: q must take manual
// grades and a rubric, when given, must be well formed and cover every
// awarded key.
func CheckGrade(q question.Question, g ManualGrade) error {
	if err := Gradable(q); err != nil {
		return err
	}
	if g.Rubric == nil {
		return nil
	}
	return g.Rubric.Check(g.Awarded)
}

func manualType(d question.Descriptor) bool { return d.RequiresFreeText || d.RequiresFile }

func (g ManualGrade) points() (float64, []string, error) {
	if g.Rubric == nil {
		return g.Points, nil, nil
	}
	return ScoreRubric(*g.Rubric, g.Awarded)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ptr(f float64) *float64 { return &f }
