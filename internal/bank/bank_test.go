package bank_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-qbank/internal/bank"
	"github.com/mind-engage/mindengage-qbank/internal/db"
	"github.com/mind-engage/mindengage-qbank/internal/question"
)

const tenant = "school-1"

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

// stores runs fn against every Store implementation.
func stores(t *testing.T, fn func(t *testing.T, b *bank.Bank)) {
	t.Run("memory", func(t *testing.T) {
		clk := &fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		fn(t, bank.New(bank.NewInMemoryStore(), bank.WithClock(clk.now)))
	})
	t.Run("sqlite", func(t *testing.T) {
		dbh, err := db.Open(context.Background(), db.DriverSQLite, ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = dbh.Close() })
		clk := &fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		fn(t, bank.New(bank.NewSQLStore(dbh), bank.WithClock(clk.now)))
	})
}

func mcq(prompt string, tags ...string) question.Draft {
	return question.Draft{
		Purpose: question.PurposeAssessment,
		Type:    question.TypeMultiChoice,
		Prompt:  prompt,
		Tags:    tags,
		Options: []question.OptionDraft{{Text: "A", IsCorrect: true}, {Text: "B"}, {Text: "C"}},
	}
}

func TestAddGetUpdate(t *testing.T) {
	stores(t, func(t *testing.T, b *bank.Bank) {
		ctx := context.Background()
		q, err := b.Add(ctx, tenant, mcq("What is x?", "algebra"))
		require.NoError(t, err)

		got, err := b.Get(ctx, tenant, q.ID)
		require.NoError(t, err)
		assert.Equal(t, q.Prompt, got.Prompt)
		assert.Equal(t, []string{"algebra"}, got.Tags)
		assert.Equal(t, q.Options().Options(), got.Options().Options())

		d := mcq("What is y?", "algebra", "linear")
		d.Level = "Hard"
		upd, err := b.Update(ctx, tenant, q.ID, d)
		require.NoError(t, err)
		assert.Equal(t, q.ID, upd.ID)

		got, err = b.Get(ctx, tenant, q.ID)
		require.NoError(t, err)
		assert.Equal(t, "What is y?", got.Prompt)
		assert.Equal(t, question.LevelHard, got.Level)
		assert.Equal(t, []string{"algebra", "linear"}, got.Tags)

		_, err = b.Get(ctx, "other-tenant", q.ID)
		assert.ErrorIs(t, err, bank.ErrNotFound)
	})
}

func TestUpdateAndDeactivateUnknown(t *testing.T) {
	stores(t, func(t *testing.T, b *bank.Bank) {
		ctx := context.Background()
		_, err := b.Update(ctx, tenant, "missing", mcq("x", "t"))
		assert.ErrorIs(t, err, bank.ErrNotFound)
		assert.ErrorIs(t, b.Deactivate(ctx, tenant, "missing"), bank.ErrNotFound)
	})
}

func TestAddRejectsInvalid(t *testing.T) {
	stores(t, func(t *testing.T, b *bank.Bank) {
		_, err := b.Add(context.Background(), tenant, mcq("", "algebra"))
		assert.ErrorIs(t, err, question.ErrMissingRequiredField)

		p, err := b.Search(context.Background(), tenant, bank.Filter{}, 1, 10)
		require.NoError(t, err)
		assert.Zero(t, p.TotalCount)
	})
}

func TestDeactivateIsSoft(t *testing.T) {
	stores(t, func(t *testing.T, b *bank.Bank) {
		ctx := context.Background()
		q, err := b.Add(ctx, tenant, mcq("Keep me", "history"))
		require.NoError(t, err)
		require.NoError(t, b.Deactivate(ctx, tenant, q.ID))

		got, err := b.Get(ctx, tenant, q.ID)
		require.NoError(t, err)
		assert.Equal(t, question.StatusInactive, got.Status)

		p, err := b.Search(ctx, tenant, bank.Filter{Status: question.StatusActive}, 1, 10)
		require.NoError(t, err)
		assert.Zero(t, p.TotalCount)
		p, err = b.Search(ctx, tenant, bank.Filter{Status: question.StatusInactive}, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, p.TotalCount)
	})
}

func TestSearchTagPagination(t *testing.T) {
	stores(t, func(t *testing.T, b *bank.Bank) {
		ctx := context.Background()
		var algebra []string
		for i := 1; i <= 30; i++ {
			tags := []string{"geometry"}
			if i%3 != 0 {
				tags = []string{"Algebra", "numbers"}
			}
			q, err := b.Add(ctx, tenant, mcq(fmt.Sprintf("Question %02d", i), tags...))
			require.NoError(t, err)
			if i%3 != 0 {
				algebra = append(algebra, q.ID)
			}
		}
		require.Len(t, algebra, 20)

		p, err := b.Search(ctx, tenant, bank.Filter{Tags: []string{"algebra"}}, 2, 10)
		require.NoError(t, err)
		assert.Equal(t, 20, p.TotalCount)
		assert.Equal(t, 2, p.Page)
		assert.Equal(t, 10, p.PageSize)
		require.Len(t, p.Items, 10)
		for i, q := range p.Items {
			assert.Equal(t, algebra[10+i], q.ID)
		}

		p, err = b.Search(ctx, tenant, bank.Filter{Tags: []string{"algebra"}}, 3, 0)
		require.NoError(t, err)
		assert.Empty(t, p.Items)
		assert.Equal(t, 20, p.TotalCount)
	})
}

func TestSearchTextTypeAndSort(t *testing.T) {
	stores(t, func(t *testing.T, b *bank.Bank) {
		ctx := context.Background()
		_, err := b.Add(ctx, tenant, mcq("Solve the EQUATION", "algebra"))
		require.NoError(t, err)
		_, err = b.Add(ctx, tenant, mcq("Area of a circle", "geometry"))
		require.NoError(t, err)
		_, err = b.Add(ctx, tenant, question.Draft{
			Purpose: question.PurposeAssessment, Type: question.TypeShortAnswer,
			Prompt: "Define an equation", Tags: []string{"algebra"},
		})
		require.NoError(t, err)
		_, err = b.Add(ctx, tenant, mcq("100% sure_thing", "misc"))
		require.NoError(t, err)

		p, err := b.Search(ctx, tenant, bank.Filter{Text: "equation"}, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 2, p.TotalCount)

		p, err = b.Search(ctx, tenant, bank.Filter{Text: "equation", Type: question.TypeShortAnswer}, 1, 10)
		require.NoError(t, err)
		require.Equal(t, 1, p.TotalCount)
		assert.Equal(t, "Define an equation", p.Items[0].Prompt)

		p, err = b.Search(ctx, tenant, bank.Filter{Text: "0% s"}, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, p.TotalCount)
		p, err = b.Search(ctx, tenant, bank.Filter{Text: "%"}, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, p.TotalCount)

		p, err = b.Search(ctx, tenant, bank.Filter{Sort: bank.SortPrompt}, 1, 10)
		require.NoError(t, err)
		require.Len(t, p.Items, 4)
		assert.Equal(t, "100% sure_thing", p.Items[0].Prompt)
		assert.Equal(t, "Solve the EQUATION", p.Items[3].Prompt)

		p, err = b.Search(ctx, tenant, bank.Filter{Sort: bank.SortCreatedAt, Desc: true}, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, "100% sure_thing", p.Items[0].Prompt)

		p, err = b.Search(ctx, tenant, bank.Filter{Purpose: question.PurposeSurvey}, 1, 10)
		require.NoError(t, err)
		assert.Zero(t, p.TotalCount)
	})
}

func TestAssessmentSelectSkipsInactive(t *testing.T) {
	stores(t, func(t *testing.T, b *bank.Bank) {
		ctx := context.Background()
		q1, err := b.Add(ctx, tenant, mcq("one", "x"))
		require.NoError(t, err)
		q2, err := b.Add(ctx, tenant, mcq("two", "x"))
		require.NoError(t, err)

		a, err := b.CreateAssessment(ctx, tenant, bank.AssessmentDraft{
			Purpose: question.PurposeAssessment, Title: "Quiz", QuestionIDs: []string{q1.ID, q2.ID, q1.ID}, TimeLimitMinutes: 5,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{q1.ID, q2.ID}, a.QuestionIDs)
		assert.Equal(t, 40.0, a.PassingPercentage)

		got, err := b.GetAssessment(ctx, tenant, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.QuestionIDs, got.QuestionIDs)
		assert.Equal(t, 5, got.TimeLimitMinutes)

		require.NoError(t, b.Deactivate(ctx, tenant, q1.ID))
		sel, err := b.Select(ctx, got)
		require.NoError(t, err)
		require.Len(t, sel, 1)
		assert.Equal(t, q2.ID, sel[0].ID)

		require.NoError(t, b.Deactivate(ctx, tenant, q2.ID))
		_, err = b.Select(ctx, got)
		assert.ErrorIs(t, err, bank.ErrNoQuestions)
	})
}

func TestCreateAssessmentValidation(t *testing.T) {
	stores(t, func(t *testing.T, b *bank.Bank) {
		ctx := context.Background()
		q, err := b.Add(ctx, tenant, mcq("one", "x"))
		require.NoError(t, err)

		_, err = b.CreateAssessment(ctx, tenant, bank.AssessmentDraft{Purpose: question.PurposeSurvey, Title: "S", QuestionIDs: []string{q.ID}})
		assert.ErrorIs(t, err, question.ErrInvalidPurpose)

		_, err = b.CreateAssessment(ctx, tenant, bank.AssessmentDraft{Purpose: question.PurposeAssessment, Title: "Q", QuestionIDs: []string{"nope"}})
		assert.ErrorIs(t, err, bank.ErrNotFound)

		_, err = b.CreateAssessment(ctx, tenant, bank.AssessmentDraft{Purpose: question.PurposeAssessment, QuestionIDs: []string{q.ID}})
		assert.ErrorIs(t, err, question.ErrMissingRequiredField)
	})
}
