package attempt

import (
	"errors"
	"time"

	"github.com/mind-engage/mindengage-qbank/internal/capture"
	"github.com/mind-engage/mindengage-qbank/internal/grading"
	"github.com/mind-engage/mindengage-qbank/internal/question"
)

var (
	ErrAttemptNotActive         = errors.New("attempt not active")
	ErrAttemptAlreadyInProgress = errors.New("attempt already in progress")
	ErrNotFound                 = errors.New("attempt not found")
	ErrQuestionNotInAttempt     = errors.New("question not in attempt")
	ErrNotFinished              = errors.New("attempt not finished")
	ErrNotScored                = errors.New("attempt purpose is not scored")
)

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusTimedOut   Status = "timed_out"
)

func (s Status) Terminal() bool { return s == StatusSubmitted || s == StatusTimedOut }

// Attempt is one learner's pass through a frozen copy of an assessment's
// questions. Questions never changes after Begin.
type Attempt struct {
	ID                string           `json:"id"`
	TenantID          string           `json:"tenant_id"`
	BankID            string           `json:"bank_id"`
	UserID            string           `json:"user_id"`
	Purpose           question.Purpose `json:"purpose"`
	Status            Status           `json:"status"`
	StartedAt         time.Time        `json:"started_at"`
	TimeLimitMinutes  int              `json:"time_limit_minutes"`
	Deadline          *time.Time       `json:"deadline,omitempty"`
	DueAt             *time.Time       `json:"due_at,omitempty"`
	SubmittedAt       *time.Time       `json:"submitted_at,omitempty"`
	Position          int              `json:"position"`
	PassingPercentage float64          `json:"passing_percentage"`

	Questions []question.Question            `json:"questions"`
	Responses capture.ResponseSet            `json:"responses"`
	Grades    map[string]grading.ManualGrade `json:"grades,omitempty"`
	Result    *grading.Report                `json:"result,omitempty"`
}

// Begin moves a fresh attempt to in_progress and fixes its deadline.
func (a *Attempt) Begin(now time.Time) error {
	if a.Status != StatusNotStarted && a.Status != "" {
		return ErrAttemptNotActive
	}
	a.Status = StatusInProgress
	a.StartedAt = now.UTC().Truncate(time.Millisecond)
	if a.TimeLimitMinutes > 0 {
		d := a.StartedAt.Add(time.Duration(a.TimeLimitMinutes) * time.Minute)
		a.Deadline = &d
	}
	return nil
}

// Remaining is the time left at now, recomputed from the stored deadline.
// ok is false for untimed attempts.
func (a *Attempt) Remaining(now time.Time) (d time.Duration, ok bool) {
	if a.Deadline == nil {
		return 0, false
	}
	d = a.Deadline.Sub(now)
	if d < 0 || a.Status.Terminal() {
		d = 0
	}
	return d, true
}

// Expired reports whether an in-progress attempt has run out of time.
func (a *Attempt) Expired(now time.Time) bool {
	return a.Status == StatusInProgress && a.Deadline != nil && !now.Before(*a.Deadline)
}

func (a *Attempt) Question(id string) (question.Question, int, bool) {
	for i, q := range a.Questions {
		if q.ID == id {
			return q, i, true
		}
	}
	return question.Question{}, 0, false
}

// Record stores r, replacing any earlier response to the same question.
func (a *Attempt) Record(r capture.Response) error {
	if a.Status != StatusInProgress {
		return ErrAttemptNotActive
	}
	_, pos, ok := a.Question(r.QuestionID)
	if !ok {
		return ErrQuestionNotInAttempt
	}
	a.Responses.Put(r)
	a.Position = pos
	return nil
}

// Finish closes the attempt as submitted or timed_out.
func (a *Attempt) Finish(status Status, now time.Time) error {
	if a.Status != StatusInProgress {
		return ErrAttemptNotActive
	}
	if !status.Terminal() {
		return errors.New("finish: not a terminal status")
	}
	t := now.UTC().Truncate(time.Millisecond)
	a.Status = status
	a.SubmittedAt = &t
	return nil
}

func (a *Attempt) Scored() bool { return a.Purpose == question.PurposeAssessment }

// UsesMedia reports whether a question or option in the snapshot points at
// the blob key.
func (a *Attempt) UsesMedia(key string) bool {
	for _, q := range a.Questions {
		if q.Media != nil && q.Media.Path == key {
			return true
		}
		for _, o := range q.Options().Options() {
			if o.Media != nil && o.Media.Path == key {
				return true
			}
		}
	}
	return false
}

func (a *Attempt) Progress() (answered, total int) {
	return a.Responses.Len(), len(a.Questions)
}

// Clone returns a deep copy.
func (a Attempt) Clone() Attempt {
	c := a
	c.Questions = make([]question.Question, len(a.Questions))
	for i, q := range a.Questions {
		c.Questions[i] = q.Clone()
	}
	c.Responses = a.Responses.Clone()
	if a.Grades != nil {
		c.Grades = make(map[string]grading.ManualGrade, len(a.Grades))
		for k, v := range a.Grades {
			c.Grades[k] = v
		}
	}
	if a.Result != nil {
		r := *a.Result
		r.PerQuestion = make(map[string]grading.Entry, len(a.Result.PerQuestion))
		for k, v := range a.Result.PerQuestion {
			r.PerQuestion[k] = v
		}
		c.Result = &r
	}
	c.Deadline = copyTime(a.Deadline)
	c.DueAt = copyTime(a.DueAt)
	c.SubmittedAt = copyTime(a.SubmittedAt)
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// View is the read shape of an attempt: remaining time is always computed
// from the server clock.
type View struct {
	Attempt
	TimeRemainingSeconds *int64 `json:"time_remaining_seconds,omitempty"`
	Answered             int    `json:"answered"`
	Total                int    `json:"total"`
}

// ViewAt builds the view at now. Learner views never expose correct options.
func (a Attempt) ViewAt(now time.Time, learner bool) View {
	c := a.Clone()
	if learner {
		for i, q := range c.Questions {
			c.Questions[i] = q.StudentView()
		}
	}
	v := View{Attempt: c}
	if d, ok := a.Remaining(now); ok {
		s := int64(d / time.Second)
		v.TimeRemainingSeconds = &s
	}
	v.Answered, v.Total = a.Progress()
	return v
}

// Outcome is what a submission returns: a score report for assessments,
// "recorded" for surveys and feedback.
type Outcome struct {
	AttemptID string          `json:"attempt_id"`
	Status    string          `json:"status"`
	Result    *grading.Report `json:"result,omitempty"`
}
