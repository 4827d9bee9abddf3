package attempt_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-qbank/internal/attempt"
	"github.com/mind-engage/mindengage-qbank/internal/bank"
	"github.com/mind-engage/mindengage-qbank/internal/capture"
	"github.com/mind-engage/mindengage-qbank/internal/db"
	"github.com/mind-engage/mindengage-qbank/internal/grading"
	"github.com/mind-engage/mindengage-qbank/internal/question"
	"github.com/mind-engage/mindengage-qbank/internal/rbac"
)

const tenant = "school-1"

var (
	alice   = rbac.Actor{UserID: "alice", TenantID: tenant, Role: "student"}
	bob     = rbac.Actor{UserID: "bob", TenantID: tenant, Role: "student"}
	teacher = rbac.Actor{UserID: "mr-t", TenantID: tenant, Role: "teacher"}
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorded struct {
	typ, key string
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recorded
}

func (f *fakeRecorder) Record(_ context.Context, typ, key string, _ any) error {
	f.mu.Lock()
	f.events = append(f.events, recorded{typ, key})
	f.mu.Unlock()
	return nil
}

func (f *fakeRecorder) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.typ
	}
	return out
}

type fixture struct {
	clk    *clock
	bank   *bank.Bank
	svc    *attempt.Service
	events *fakeRecorder
}

// fixtures runs fn once with in-memory stores and once with SQLite.
func fixtures(t *testing.T, fn func(t *testing.T, f *fixture)) {
	build := func(t *testing.T, bs bank.Store, as attempt.Store) *fixture {
		clk := &clock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
		b := bank.New(bs, bank.WithClock(clk.Now))
		ev := &fakeRecorder{}
		svc := attempt.NewService(b, as, attempt.WithClock(clk.Now), attempt.WithRecorder(ev))
		return &fixture{clk: clk, bank: b, svc: svc, events: ev}
	}
	t.Run("memory", func(t *testing.T) {
		fn(t, build(t, bank.NewInMemoryStore(), attempt.NewInMemoryStore()))
	})
	t.Run("sqlite", func(t *testing.T) {
		dbh, err := db.Open(context.Background(), db.DriverSQLite, ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = dbh.Close() })
		fn(t, build(t, bank.NewSQLStore(dbh), attempt.NewSQLStore(dbh)))
	})
}

type seeded struct {
	assessment bank.Assessment
	mcq        question.Question
	essay      question.Question
}

func seed(t *testing.T, f *fixture, minutes int, due *time.Time) seeded {
	t.Helper()
	ctx := context.Background()
	mcq, err := f.bank.Add(ctx, tenant, question.Draft{
		Purpose: question.PurposeAssessment, Type: question.TypeMultiChoice,
		Prompt: "2+2?", Tags: []string{"arithmetic"}, Marks: 2,
		Options: []question.OptionDraft{{Text: "4", IsCorrect: true}, {Text: "5"}, {Text: "22"}},
	})
	require.NoError(t, err)
	essay, err := f.bank.Add(ctx, tenant, question.Draft{
		Purpose: question.PurposeAssessment, Type: question.TypeLongAnswer,
		Prompt: "Explain addition.", Tags: []string{"arithmetic"}, Marks: 3,
	})
	require.NoError(t, err)
	a, err := f.bank.CreateAssessment(ctx, tenant, bank.AssessmentDraft{
		Purpose: question.PurposeAssessment, Title: "Quiz 1",
		QuestionIDs: []string{mcq.ID, essay.ID}, TimeLimitMinutes: minutes, DueAt: due,
	})
	require.NoError(t, err)
	return seeded{assessment: a, mcq: mcq, essay: essay}
}

func optionID(q question.Question, index int) string {
	o, _ := q.Options().At(index)
	return o.ID
}

func TestTickTimesOutAndScores(t *testing.T) {
	fixtures(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		s := seed(t, f, 1, nil)

		a, err := f.svc.Start(ctx, alice, s.assessment.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt.StatusInProgress, a.Status)
		require.NotNil(t, a.Deadline)

		_, err = f.svc.Answer(ctx, alice, a.ID, s.mcq.ID, optionID(s.mcq, 1))
		require.NoError(t, err)

		f.clk.Advance(30 * time.Second)
		a, err = f.svc.Tick(ctx, alice, a.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt.StatusInProgress, a.Status)
		left, ok := a.Remaining(f.clk.Now())
		assert.True(t, ok)
		assert.Equal(t, 30*time.Second, left)

		f.clk.Advance(31 * time.Second)
		a, err = f.svc.Tick(ctx, alice, a.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt.StatusTimedOut, a.Status)
		require.NotNil(t, a.Result)
		assert.Equal(t, 2.0, *a.Result.PerQuestion[s.mcq.ID].Earned)
		assert.Equal(t, grading.StatusPending, a.Result.PerQuestion[s.essay.ID].Status)
		assert.Equal(t, 100.0, a.Result.Percentage)

		stored, err := f.svc.Get(ctx, alice, a.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt.StatusTimedOut, stored.Status)
		assert.Equal(t, []string{"AttemptStarted", "AttemptTimedOut"}, f.events.types())

		_, err = f.svc.Answer(ctx, alice, a.ID, s.mcq.ID, optionID(s.mcq, 2))
		assert.ErrorIs(t, err, attempt.ErrAttemptNotActive)
	})
}

func TestSecondStartRejectedWhileInProgress(t *testing.T) {
	fixtures(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		s := seed(t, f, 0, nil)

		first, err := f.svc.Start(ctx, alice, s.assessment.ID)
		require.NoError(t, err)
		_, err = f.svc.Start(ctx, alice, s.assessment.ID)
		assert.ErrorIs(t, err, attempt.ErrAttemptAlreadyInProgress)

		_, err = f.svc.Start(ctx, bob, s.assessment.ID)
		assert.NoError(t, err)

		_, err = f.svc.Submit(ctx, alice, first.ID)
		require.NoError(t, err)
		_, err = f.svc.Start(ctx, alice, s.assessment.ID)
		assert.NoError(t, err)
	})
}

func TestReanswerOverwrites(t *testing.T) {
	fixtures(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		s := seed(t, f, 0, nil)
		a, err := f.svc.Start(ctx, alice, s.assessment.ID)
		require.NoError(t, err)

		_, err = f.svc.Answer(ctx, alice, a.ID, s.essay.ID, "draft")
		require.NoError(t, err)
		_, err = f.svc.Answer(ctx, alice, a.ID, s.mcq.ID, optionID(s.mcq, 2))
		require.NoError(t, err)
		_, err = f.svc.Answer(ctx, alice, a.ID, s.mcq.ID, optionID(s.mcq, 1))
		require.NoError(t, err)

		a, err = f.svc.Get(ctx, alice, a.ID)
		require.NoError(t, err)
		require.Equal(t, 2, a.Responses.Len())
		r, ok := a.Responses.Get(s.mcq.ID)
		require.True(t, ok)
		assert.Equal(t, optionID(s.mcq, 1), r.OptionID)

		out, err := f.svc.Submit(ctx, alice, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "submitted", out.Status)
		require.NotNil(t, out.Result)
		assert.Equal(t, 2.0, out.Result.Total)
		assert.Equal(t, 1, out.Result.Pending)
	})
}

func TestSnapshotSurvivesBankEdits(t *testing.T) {
	fixtures(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		s := seed(t, f, 0, nil)
		a, err := f.svc.Start(ctx, alice, s.assessment.ID)
		require.NoError(t, err)
		before := a.Questions

		_, err = f.bank.Update(ctx, tenant, s.mcq.ID, question.Draft{
			Type: question.TypeMultiChoice, Prompt: "3+3?", Tags: []string{"arithmetic"},
			Options: []question.OptionDraft{{Text: "6", IsCorrect: true}, {Text: "7"}},
		})
		require.NoError(t, err)
		require.NoError(t, f.bank.Deactivate(ctx, tenant, s.essay.ID))

		a, err = f.svc.Get(ctx, alice, a.ID)
		require.NoError(t, err)
		require.Len(t, a.Questions, 2)
		assert.Equal(t, "2+2?", a.Questions[0].Prompt)
		assert.Equal(t, before[0].Options().Options(), a.Questions[0].Options().Options())
		assert.Equal(t, question.StatusActive, a.Questions[1].Status)

		// the original option ids still capture
		_, err = f.svc.Answer(ctx, alice, a.ID, s.mcq.ID, optionID(before[0], 1))
		assert.NoError(t, err)
	})
}

func TestSubmitTwiceAndAfterDeadline(t *testing.T) {
	fixtures(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		s := seed(t, f, 5, nil)

		a, err := f.svc.Start(ctx, alice, s.assessment.ID)
		require.NoError(t, err)
		_, err = f.svc.Submit(ctx, alice, a.ID)
		require.NoError(t, err)
		_, err = f.svc.Submit(ctx, alice, a.ID)
		assert.ErrorIs(t, err, attempt.ErrAttemptNotActive)

		b, err := f.svc.Start(ctx, alice, s.assessment.ID)
		require.NoError(t, err)
		f.clk.Advance(6 * time.Minute)
		out, err := f.svc.Submit(ctx, alice, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "timed_out", out.Status)
	})
}

func TestAnswerAfterDeadlineTimesOut(t *testing.T) {
	fixtures(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		s := seed(t, f, 1, nil)
		a, err := f.svc.Start(ctx, alice, s.assessment.ID)
		require.NoError(t, err)

		f.clk.Advance(time.Minute)
		a, err = f.svc.Answer(ctx, alice, a.ID, s.mcq.ID, optionID(s.mcq, 1))
		assert.ErrorIs(t, err, attempt.ErrAttemptNotActive)
		assert.Equal(t, attempt.StatusTimedOut, a.Status)
	})
}

func TestAnswerValidation(t *testing.T) {
	fixtures(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		s := seed(t, f, 0, nil)
		a, err := f.svc.Start(ctx, alice, s.assessment.ID)
		require.NoError(t, err)

		_, err = f.svc.Answer(ctx, alice, a.ID, "unknown", "x")
		assert.ErrorIs(t, err, attempt.ErrQuestionNotInAttempt)
		_, err = f.svc.Answer(ctx, alice, a.ID, s.mcq.ID, "not-an-option")
		assert.True(t, question.IsValidation(err))

		_, err = f.svc.Answer(ctx, bob, a.ID, s.mcq.ID, optionID(s.mcq, 1))
		assert.ErrorIs(t, err, attempt.ErrNotFound)
		_, err = f.svc.Get(ctx, bob, a.ID)
		assert.ErrorIs(t, err, attempt.ErrNotFound)
		_, err = f.svc.Get(ctx, teacher, a.ID)
		assert.NoError(t, err)
		_, err = f.svc.Get(ctx, rbac.Actor{UserID: "alice", TenantID: "other", Role: "student"}, a.ID)
		assert.ErrorIs(t, err, attempt.ErrNotFound)
	})
}

func TestLateResponsesFlagged(t *testing.T) {
	fixtures(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		due := f.clk.Now().Add(time.Minute)
		s := seed(t, f, 0, &due)
		a, err := f.svc.Start(ctx, alice, s.assessment.ID)
		require.NoError(t, err)

		a, err = f.svc.Answer(ctx, alice, a.ID, s.essay.ID, "on time")
		require.NoError(t, err)
		r, _ := a.Responses.Get(s.essay.ID)
		assert.False(t, r.IsLate)

		f.clk.Advance(2 * time.Minute)
		a, err = f.svc.Answer(ctx, alice, a.ID, s.mcq.ID, optionID(s.mcq, 1))
		require.NoError(t, err)
		r, _ = a.Responses.Get(s.mcq.ID)
		assert.True(t, r.IsLate)
	})
}

func TestSurveySubmissionIsRecorded(t *testing.T) {
	fixtures(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		q, err := f.bank.Add(ctx, tenant, question.Draft{
			Purpose: question.PurposeSurvey, Type: question.TypeRating, Prompt: "Rate the course",
			Tags: []string{"course"}, RatingScale: 5, RatingSymbol: question.SymbolStar,
		})
		require.NoError(t, err)
		sv, err := f.bank.CreateAssessment(ctx, tenant, bank.AssessmentDraft{
			Purpose: question.PurposeSurvey, Title: "End of term", QuestionIDs: []string{q.ID},
		})
		require.NoError(t, err)

		a, err := f.svc.Start(ctx, alice, sv.ID)
		require.NoError(t, err)
		assert.Nil(t, a.Deadline)
		_, err = f.svc.Answer(ctx, alice, a.ID, q.ID, 6.0)
		assert.ErrorIs(t, err, capture.ErrRatingOutOfRange)
		_, err = f.svc.Answer(ctx, alice, a.ID, q.ID, 4.0)
		require.NoError(t, err)

		out, err := f.svc.Submit(ctx, alice, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "recorded", out.Status)
		assert.Nil(t, out.Result)

		_, err = f.svc.Grade(ctx, teacher, a.ID, map[string]grading.ManualGrade{q.ID: {Points: 1}})
		assert.ErrorIs(t, err, attempt.ErrNotScored)
	})
}

func TestManualGrading(t *testing.T) {
	fixtures(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		s := seed(t, f, 0, nil)
		a, err := f.svc.Start(ctx, alice, s.assessment.ID)
		require.NoError(t, err)
		_, err = f.svc.Answer(ctx, alice, a.ID, s.mcq.ID, optionID(s.mcq, 2))
		require.NoError(t, err)
		_, err = f.svc.Answer(ctx, alice, a.ID, s.essay.ID, "because")
		require.NoError(t, err)

		_, err = f.svc.Grade(ctx, teacher, a.ID, map[string]grading.ManualGrade{s.essay.ID: {Points: 2}})
		assert.ErrorIs(t, err, attempt.ErrNotFinished)

		out, err := f.svc.Submit(ctx, alice, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, out.Result.Pending)
		assert.Equal(t, 0.0, out.Result.Percentage)

		_, err = f.svc.Grade(ctx, teacher, a.ID, map[string]grading.ManualGrade{s.mcq.ID: {Points: 2}})
		assert.ErrorIs(t, err, grading.ErrNotGradable)
		assert.True(t, question.IsValidation(err))

		rep, err := f.svc.Grade(ctx, teacher, a.ID, map[string]grading.ManualGrade{s.essay.ID: {Points: 10, Comment: "thin"}})
		require.NoError(t, err)
		assert.Zero(t, rep.Pending)
		assert.Equal(t, 3.0, rep.Total)
		assert.Equal(t, 5.0, rep.Possible)
		assert.Equal(t, 60.0, rep.Percentage)
		assert.True(t, rep.Passed)

		stored, err := f.svc.Get(ctx, alice, a.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.Result)
		assert.Equal(t, 60.0, stored.Result.Percentage)
		assert.Equal(t, "thin", stored.Grades[s.essay.ID].Comment)
	})
}

func TestExpireStale(t *testing.T) {
	fixtures(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		timed := seed(t, f, 2, nil)
		untimed := seed(t, f, 0, nil)

		a1, err := f.svc.Start(ctx, alice, timed.assessment.ID)
		require.NoError(t, err)
		_, err = f.svc.Start(ctx, bob, timed.assessment.ID)
		require.NoError(t, err)
		open, err := f.svc.Start(ctx, alice, untimed.assessment.ID)
		require.NoError(t, err)

		n, err := f.svc.ExpireStale(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		f.clk.Advance(3 * time.Minute)
		n, err = f.svc.ExpireStale(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, err := f.svc.Get(ctx, alice, a1.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt.StatusTimedOut, got.Status)
		got, err = f.svc.Get(ctx, alice, open.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt.StatusInProgress, got.Status)
	})
}

func TestLearnerViewHidesAnswerKey(t *testing.T) {
	fixtures(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		s := seed(t, f, 10, nil)
		a, err := f.svc.Start(ctx, alice, s.assessment.ID)
		require.NoError(t, err)
		f.clk.Advance(90 * time.Second)

		v := a.ViewAt(f.clk.Now(), true)
		assert.Empty(t, v.Questions[0].Options().CorrectIDs())
		require.NotNil(t, v.TimeRemainingSeconds)
		assert.Equal(t, int64(510), *v.TimeRemainingSeconds)
		assert.Equal(t, 2, v.Total)
		assert.NotEmpty(t, a.Questions[0].Options().CorrectIDs())

		v = a.ViewAt(f.clk.Now(), false)
		assert.NotEmpty(t, v.Questions[0].Options().CorrectIDs())
	})
}

// interleavingStore runs onGet once, right after the next Get has read the
// attempt, so a second request can close it before the first one saves.
type interleavingStore struct {
	attempt.Store
	onGet func()
}

func (s *interleavingStore) Get(ctx context.Context, tenantID, id string) (attempt.Attempt, error) {
	a, err := s.Store.Get(ctx, tenantID, id)
	if fn := s.onGet; fn != nil {
		s.onGet = nil
		fn()
	}
	return a, err
}

func TestStaleAnswerCannotReopenClosedAttempt(t *testing.T) {
	stores := map[string]func(t *testing.T) (bank.Store, attempt.Store){
		"memory": func(*testing.T) (bank.Store, attempt.Store) {
			return bank.NewInMemoryStore(), attempt.NewInMemoryStore()
		},
		"sqlite": func(t *testing.T) (bank.Store, attempt.Store) {
			dbh, err := db.Open(context.Background(), db.DriverSQLite, ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { _ = dbh.Close() })
			return bank.NewSQLStore(dbh), attempt.NewSQLStore(dbh)
		},
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bs, as := open(t)
			clk := &clock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
			b := bank.New(bs, bank.WithClock(clk.Now))
			racy := &interleavingStore{Store: as}
			ev := &fakeRecorder{}
			svc := attempt.NewService(b, racy, attempt.WithClock(clk.Now), attempt.WithRecorder(ev))
			s := seed(t, &fixture{clk: clk, bank: b, svc: svc, events: ev}, 10, nil)

			a, err := svc.Start(ctx, alice, s.assessment.ID)
			require.NoError(t, err)

			racy.onGet = func() {
				out, err := svc.Submit(ctx, alice, a.ID)
				require.NoError(t, err)
				assert.Equal(t, "submitted", out.Status)
			}
			_, err = svc.Answer(ctx, alice, a.ID, s.mcq.ID, optionID(s.mcq, 1))
			assert.ErrorIs(t, err, attempt.ErrAttemptNotActive)

			stored, err := as.Get(ctx, tenant, a.ID)
			require.NoError(t, err)
			assert.Equal(t, attempt.StatusSubmitted, stored.Status)
			assert.NotNil(t, stored.Result)
			assert.Zero(t, stored.Responses.Len())
			assert.Equal(t, []string{"AttemptStarted", "AttemptSubmitted"}, ev.types())
		})
	}
}

func TestStartReplacesExpiredActiveAttempt(t *testing.T) {
	fixtures(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		s := seed(t, f, 1, nil)
		first, err := f.svc.Start(ctx, alice, s.assessment.ID)
		require.NoError(t, err)

		f.clk.Advance(2 * time.Minute)
		second, err := f.svc.Start(ctx, alice, s.assessment.ID)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, attempt.StatusInProgress, second.Status)

		old, err := f.svc.Get(ctx, alice, first.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt.StatusTimedOut, old.Status)
		assert.Equal(t, []string{"AttemptStarted", "AttemptTimedOut", "AttemptStarted"}, f.events.types())
	})
}
