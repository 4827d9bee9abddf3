package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-qbank/internal/bank"
	"github.com/mind-engage/mindengage-qbank/internal/question"
	"github.com/mind-engage/mindengage-qbank/internal/rbac"
)

// questionReq is the create/update payload. Shape is checked here; the
// question rules run in the bank.
type questionReq struct {
	Purpose      string                 `json:"purpose" validate:"omitempty,oneof=assessment survey feedback"`
	Type         string                 `json:"type" validate:"required,max=32"`
	Prompt       string                 `json:"prompt_text" validate:"required,max=10000"`
	Tags         []string               `json:"tags" validate:"max=32,dive,max=64"`
	Skills       []string               `json:"skills" validate:"max=32,dive,max=64"`
	Level        string                 `json:"level" validate:"omitempty,max=16"`
	Marks        int                    `json:"marks" validate:"min=0,max=1000"`
	Media        *question.Media        `json:"media"`
	Options      []question.OptionDraft `json:"options" validate:"max=50"`
	RatingScale  int                    `json:"rating_scale" validate:"min=0,max=100"`
	RatingSymbol string                 `json:"rating_symbol" validate:"omitempty,max=16"`
	Status       string                 `json:"status" validate:"omitempty,oneof=Active Inactive"`
}

func (q questionReq) draft() question.Draft {
	return question.Draft{
		Purpose:      question.Purpose(q.Purpose),
		Type:         question.Type(q.Type),
		Prompt:       q.Prompt,
		Tags:         q.Tags,
		Skills:       q.Skills,
		Level:        q.Level,
		Marks:        q.Marks,
		Media:        q.Media,
		Options:      q.Options,
		RatingScale:  q.RatingScale,
		RatingSymbol: question.RatingSymbol(q.RatingSymbol),
		Status:       question.Status(q.Status),
	}
}

func actor(r *http.Request) rbac.Actor {
	a, _ := rbac.ActorFromContext(r.Context())
	return a
}

// POST /questions
func CreateQuestionHandler(b *bank.Bank, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req questionReq
		if err := decode(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}
		if req.Purpose == "" {
			badRequest(w, "purpose", question.ErrMissingRequiredField.Error())
			return
		}
		q, err := b.Add(r.Context(), actor(r).TenantID, req.draft())
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, q)
	}
}

// PUT /questions/{id}
func UpdateQuestionHandler(b *bank.Bank, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req questionReq
		if err := decode(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}
		q, err := b.Update(r.Context(), actor(r).TenantID, chi.URLParam(r, "id"), req.draft())
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

// DELETE /questions/{id} deactivates; attempts holding the question keep it.
func DeactivateQuestionHandler(b *bank.Bank, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := b.Deactivate(r.Context(), actor(r).TenantID, chi.URLParam(r, "id")); err != nil {
			writeError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /questions/{id}
func GetQuestionHandler(b *bank.Bank, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := b.Get(r.Context(), actor(r).TenantID, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

// GET /questions?purpose=&q=&type=&tags=a,b&status=&page=&page_size=&sort=-created_at
func SearchQuestionsHandler(b *bank.Bank, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs := r.URL.Query()
		page, ok := intParam(w, qs.Get("page"), "page")
		if !ok {
			return
		}
		size, ok := intParam(w, qs.Get("page_size"), "page_size")
		if !ok {
			return
		}
		if size > maxPageSize {
			size = maxPageSize
		}
		f := bank.Filter{
			Purpose: question.Purpose(qs.Get("purpose")),
			Text:    qs.Get("q"),
			Type:    question.Type(qs.Get("type")),
			Status:  question.Status(qs.Get("status")),
		}
		if f.Purpose != "" && !f.Purpose.Valid() {
			badRequest(w, "purpose", question.ErrInvalidPurpose.Error())
			return
		}
		if f.Status != "" && !f.Status.Valid() {
			badRequest(w, "status", question.ErrInvalidStatus.Error())
			return
		}
		if f.Type != "" {
			if _, err := question.Describe(f.Type); err != nil {
				badRequest(w, "type", err.Error())
				return
			}
		}
		for _, t := range strings.Split(qs.Get("tags"), ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.Tags = append(f.Tags, t)
			}
		}
		f.Sort, f.Desc = bank.ParseSort(qs.Get("sort"))

		res, err := b.Search(r.Context(), actor(r).TenantID, f, page, size)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

const maxPageSize = 100

func intParam(w http.ResponseWriter, v, field string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		badRequest(w, field, "must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// POST /assessments
func CreateAssessmentHandler(b *bank.Bank, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bank.AssessmentDraft
		if err := decode(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}
		a, err := b.CreateAssessment(r.Context(), actor(r).TenantID, req)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, a)
	}
}

// GET /assessments/{id}
func GetAssessmentHandler(b *bank.Bank, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := b.GetAssessment(r.Context(), actor(r).TenantID, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}
