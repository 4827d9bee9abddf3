package attempt

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-qbank/internal/bank"
	"github.com/mind-engage/mindengage-qbank/internal/capture"
	"github.com/mind-engage/mindengage-qbank/internal/grading"
	"github.com/mind-engage/mindengage-qbank/internal/metrics"
	"github.com/mind-engage/mindengage-qbank/internal/question"
	"github.com/mind-engage/mindengage-qbank/internal/rbac"
	syncx "github.com/mind-engage/mindengage-qbank/internal/sync"
)

// Recorder receives attempt lifecycle events. *syncx.EventRepo satisfies it.
type Recorder interface {
	Record(ctx context.Context, typ, key string, data any) error
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, string, string, any) error { return nil }

// Service runs attempts: it snapshots assessments from the bank, captures
// answers, enforces the server-side deadline and scores on close.
type Service struct {
	bank     *bank.Bank
	store    Store
	guard    Guard
	capturer *capture.Capturer
	scorer   *grading.Scorer
	events   Recorder
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Service)

func WithGuard(g Guard) Option                { return func(s *Service) { s.guard = g } }
func WithCapturer(c *capture.Capturer) Option { return func(s *Service) { s.capturer = c } }
func WithScorer(sc *grading.Scorer) Option    { return func(s *Service) { s.scorer = sc } }
func WithRecorder(r Recorder) Option          { return func(s *Service) { s.events = r } }
func WithMetrics(m *metrics.Metrics) Option   { return func(s *Service) { s.metrics = m } }
func WithLogger(l *zap.Logger) Option         { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option   { return func(s *Service) { s.now = now } }
func WithIDs(gen func() string) Option        { return func(s *Service) { s.newID = gen } }

func NewService(b *bank.Bank, store Store, opts ...Option) *Service {
	s := &Service{
		bank:   b,
		store:  store,
		guard:  NewLocalGuard(),
		scorer: grading.NewScorer(),
		events: nopRecorder{},
		log:    zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if s.capturer == nil {
		s.capturer = capture.New(capture.DefaultPolicy, capture.WithClock(s.now))
	}
	return s
}

// Start snapshots the assessment's questions and opens a timed attempt for
// the actor. A second Start while one is in progress fails with
// ErrAttemptAlreadyInProgress; an active attempt whose deadline has passed is
// timed out first and does not block.
func (s *Service) Start(ctx context.Context, actor rbac.Actor, bankID string) (Attempt, error) {
	release, err := s.guard.Acquire(ctx, guardKey(actor.TenantID, actor.UserID, bankID))
	if err != nil {
		return Attempt{}, err
	}
	defer release()

	active, err := s.store.FindActive(ctx, actor.TenantID, actor.UserID, bankID)
	switch {
	case err == nil && active.Expired(s.now()):
		if err := s.close(ctx, &active, StatusTimedOut); err != nil && !errors.Is(err, ErrAttemptNotActive) {
			return Attempt{}, err
		}
	case err == nil:
		return Attempt{}, ErrAttemptAlreadyInProgress
	case !errors.Is(err, ErrNotFound):
		return Attempt{}, err
	}

	asmt, err := s.bank.GetAssessment(ctx, actor.TenantID, bankID)
	if err != nil {
		return Attempt{}, err
	}
	questions, err := s.bank.Select(ctx, asmt)
	if err != nil {
		return Attempt{}, err
	}

	a := Attempt{
		ID:                s.newID(),
		TenantID:          actor.TenantID,
		BankID:            bankID,
		UserID:            actor.UserID,
		Purpose:           asmt.Purpose,
		Status:            StatusNotStarted,
		TimeLimitMinutes:  asmt.TimeLimitMinutes,
		DueAt:             copyTime(asmt.DueAt),
		PassingPercentage: asmt.PassingPercentage,
		Questions:         questions,
	}
	if err := a.Begin(s.now()); err != nil {
		return Attempt{}, err
	}
	if err := s.store.Create(ctx, a); err != nil {
		return Attempt{}, err
	}

	s.metrics.AttemptStarted(string(a.Purpose))
	s.record(ctx, syncx.TypeAttemptStarted, a, map[string]any{
		"user_id": a.UserID, "bank_id": a.BankID, "questions": len(a.Questions),
	})
	s.log.Info("attempt started",
		zap.String("tenant", a.TenantID), zap.String("attempt", a.ID),
		zap.String("user", a.UserID), zap.String("bank", a.BankID),
		zap.Int("questions", len(a.Questions)), zap.Int("time_limit_minutes", a.TimeLimitMinutes))
	return a, nil
}

// Get returns the attempt, closing it first if its deadline has passed.
func (s *Service) Get(ctx context.Context, actor rbac.Actor, id string) (Attempt, error) {
	a, err := s.load(ctx, actor, id)
	if err != nil {
		return Attempt{}, err
	}
	if a.Expired(s.now()) {
		err := s.close(ctx, &a, StatusTimedOut)
		if errors.Is(err, ErrAttemptNotActive) {
			// closed concurrently; return what was stored
			return s.load(ctx, actor, id)
		}
		if err != nil {
			return Attempt{}, err
		}
	}
	return a, nil
}

// Answer captures raw for questionID. Re-answering replaces the earlier
// response. An expired attempt is closed and ErrAttemptNotActive returned.
func (s *Service) Answer(ctx context.Context, actor rbac.Actor, id, questionID string, raw any) (Attempt, error) {
	a, err := s.load(ctx, actor, id)
	if err != nil {
		return Attempt{}, err
	}
	if a.UserID != actor.UserID {
		return Attempt{}, ErrNotFound
	}
	if a.Expired(s.now()) {
		if err := s.close(ctx, &a, StatusTimedOut); err != nil && !errors.Is(err, ErrAttemptNotActive) {
			return Attempt{}, err
		}
		return a, ErrAttemptNotActive
	}
	if a.Status != StatusInProgress {
		return a, ErrAttemptNotActive
	}
	q, _, ok := a.Question(questionID)
	if !ok {
		return Attempt{}, ErrQuestionNotInAttempt
	}
	r, err := s.capturer.Capture(q, raw)
	s.metrics.AnswerCaptured(string(q.Type), err == nil)
	if err != nil {
		s.log.Debug("answer rejected", zap.String("attempt", a.ID), zap.String("question", q.ID), zap.Error(err))
		return Attempt{}, err
	}
	r.MarkLate(a.DueAt)
	if err := a.Record(r); err != nil {
		return Attempt{}, err
	}
	if err := s.store.Save(ctx, a, StatusInProgress); err != nil {
		return Attempt{}, err
	}
	return a, nil
}

// Tick is the client's periodic poll. Remaining time is recomputed from the
// stored deadline; when it is used up the attempt times out and is scored
// with whatever responses exist.
func (s *Service) Tick(ctx context.Context, actor rbac.Actor, id string) (Attempt, error) {
	return s.Get(ctx, actor, id)
}

// Submit closes the attempt. Assessments are scored; surveys and feedback
// are only recorded. Submitting after the deadline times the attempt out
// instead, and the outcome reports status timed_out.
func (s *Service) Submit(ctx context.Context, actor rbac.Actor, id string) (Outcome, error) {
	a, err := s.load(ctx, actor, id)
	if err != nil {
		return Outcome{}, err
	}
	if a.UserID != actor.UserID {
		return Outcome{}, ErrNotFound
	}
	status := StatusSubmitted
	if a.Expired(s.now()) {
		status = StatusTimedOut
	}
	if err := s.close(ctx, &a, status); err != nil {
		return Outcome{}, err
	}
	return outcome(a), nil
}

// View renders a for actor at the service clock. Callers without
// attempt:view-all get the learner view with the answer key stripped.
func (s *Service) View(actor rbac.Actor, a Attempt) View {
	return a.ViewAt(s.now(), !actor.Can(rbac.PermAttemptViewAll))
}

func outcome(a Attempt) Outcome {
	if !a.Scored() {
		return Outcome{AttemptID: a.ID, Status: "recorded"}
	}
	return Outcome{AttemptID: a.ID, Status: string(a.Status), Result: a.Result}
}

// Grade stores manual marks for pending questions of a closed assessment
// attempt and rescores it.
func (s *Service) Grade(ctx context.Context, actor rbac.Actor, id string, grades map[string]grading.ManualGrade) (grading.Report, error) {
	a, err := s.store.Get(ctx, actor.TenantID, id)
	if err != nil {
		return grading.Report{}, err
	}
	if !a.Scored() {
		return grading.Report{}, ErrNotScored
	}
	if !a.Status.Terminal() {
		return grading.Report{}, ErrNotFinished
	}
	for qid, g := range grades {
		q, _, ok := a.Question(qid)
		if !ok {
			return grading.Report{}, &question.FieldError{Field: "items." + qid, Err: ErrQuestionNotInAttempt}
		}
		if err := grading.CheckGrade(q, g); err != nil {
			return grading.Report{}, &question.FieldError{Field: "items." + qid, Err: err}
		}
	}
	from := a.Status
	if a.Grades == nil {
		a.Grades = map[string]grading.ManualGrade{}
	}
	for qid, g := range grades {
		a.Grades[qid] = g
	}
	rep, err := s.scorer.Score(ctx, a.Questions, a.Responses.ByQuestion(), a.PassingPercentage, a.Grades)
	if err != nil {
		return grading.Report{}, err
	}
	a.Result = &rep
	if err := s.store.Save(ctx, a, from); err != nil {
		return grading.Report{}, err
	}
	s.record(ctx, syncx.TypeAttemptGraded, a, map[string]any{"grader": actor.UserID, "percentage": rep.Percentage, "pending": rep.Pending})
	s.log.Info("attempt graded", zap.String("attempt", a.ID), zap.String("grader", actor.UserID), zap.Int("pending", rep.Pending))
	return rep, nil
}

// ExpireStale times out every in-progress attempt whose deadline has passed.
// It stands in for learners who closed their session mid-attempt.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	const batch = 100
	n := 0
	for {
		list, err := s.store.ListExpired(ctx, s.now(), batch)
		if err != nil {
			return n, err
		}
		if len(list) == 0 {
			return n, nil
		}
		for i := range list {
			if err := s.close(ctx, &list[i], StatusTimedOut); err != nil {
				if errors.Is(err, ErrAttemptNotActive) {
					continue
				}
				return n, err
			}
			n++
		}
		if len(list) < batch {
			return n, nil
		}
	}
}

// load fetches within the actor's tenant. Learners only see their own attempts.
func (s *Service) load(ctx context.Context, actor rbac.Actor, id string) (Attempt, error) {
	a, err := s.store.Get(ctx, actor.TenantID, id)
	if err != nil {
		return Attempt{}, err
	}
	if a.UserID != actor.UserID && !actor.Can(rbac.PermAttemptViewAll) {
		return Attempt{}, ErrNotFound
	}
	return a, nil
}

// close finishes a, scores it when it is an assessment, and persists it.
func (s *Service) close(ctx context.Context, a *Attempt, status Status) error {
	if err := a.Finish(status, s.now()); err != nil {
		return err
	}
	if a.Scored() {
		rep, err := s.scorer.Score(ctx, a.Questions, a.Responses.ByQuestion(), a.PassingPercentage, a.Grades)
		if err != nil {
			return err
		}
		a.Result = &rep
		s.metrics.Scored(rep.Percentage)
	}
	if err := s.store.Save(ctx, *a, StatusInProgress); err != nil {
		if errors.Is(err, ErrAttemptNotActive) {
			return err
		}
		s.log.Error("attempt save failed", zap.String("attempt", a.ID), zap.Error(err))
		return err
	}

	typ := syncx.TypeAttemptSubmitted
	if status == StatusTimedOut {
		typ = syncx.TypeAttemptTimedOut
	}
	data := map[string]any{"user_id": a.UserID, "responses": a.Responses.Len()}
	if a.Result != nil {
		data["percentage"] = a.Result.Percentage
		data["passed"] = a.Result.Passed
	}
	s.record(ctx, typ, *a, data)
	s.metrics.AttemptFinished(string(a.Purpose), string(status))
	s.log.Info("attempt closed",
		zap.String("tenant", a.TenantID), zap.String("attempt", a.ID),
		zap.String("status", string(status)), zap.Int("responses", a.Responses.Len()))
	return nil
}

func (s *Service) record(ctx context.Context, typ string, a Attempt, data map[string]any) {
	data["tenant_id"] = a.TenantID
	if err := s.events.Record(ctx, typ, a.ID, data); err != nil {
		s.log.Warn("event log append failed", zap.String("type", typ), zap.String("attempt", a.ID), zap.Error(err))
	}
}
