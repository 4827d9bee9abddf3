package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckerWildcards(t *testing.T) {
	c := NewChecker(nil)
	assert.True(t, c.Has("teacher", PermQuestionCreate))
	assert.True(t, c.Has("teacher", PermQuestionView))
	assert.False(t, c.Has("teacher", PermAttemptSubmit))
	assert.True(t, c.Has("student", PermAttemptSave))
	assert.False(t, c.Has("student", PermQuestionEdit))
	assert.True(t, c.Has("admin", "anything:at-all"))
	assert.False(t, c.Has("ghost", PermAttemptCreate))
	assert.True(t, c.Any("student", PermQuestionView, PermAttemptCreate))
}

func TestActorContext(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithActor(context.Background(), Actor{UserID: "u1", TenantID: "t1", Role: "student"})
	a, ok := ActorFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u1", a.UserID)
	assert.Equal(t, "student", RoleFromContext(ctx))
	assert.True(t, a.Can(PermAttemptViewOwn))
	assert.False(t, a.Can(PermAttemptViewAll))
}

func TestRequire(t *testing.T) {
	h := Require(PermQuestionCreate)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for role, want := range map[string]int{
		"teacher": http.StatusNoContent,
		"student": http.StatusForbidden,
		"":        http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodPost, "/questions", nil)
		if role != "" {
			req = req.WithContext(WithActor(req.Context(), Actor{UserID: "u", Role: role}))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "role %q", role)
	}
}
