package http

import (
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-qbank/internal/attempt"
	"github.com/mind-engage/mindengage-qbank/internal/capture"
	"github.com/mind-engage/mindengage-qbank/internal/grading"
	"github.com/mind-engage/mindengage-qbank/internal/question"
	"github.com/mind-engage/mindengage-qbank/internal/storage"
)

type startReq struct {
	BankID string `json:"bank_id" validate:"required,max=64"`
}

// POST /attempts  {bank_id}; the learner comes from the token.
func StartAttemptHandler(svc *attempt.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startReq
		if err := decode(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}
		who := actor(r)
		a, err := svc.Start(r.Context(), who, req.BankID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, svc.View(who, a))
	}
}

// GET /attempts/{attemptID}
func GetAttemptHandler(svc *attempt.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who := actor(r)
		a, err := svc.Get(r.Context(), who, chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, svc.View(who, a))
	}
}

type answerReq struct {
	QuestionID string `json:"question_id" validate:"required,max=64"`
	Value      any    `json:"value"`
}

// POST /attempts/{attemptID}/answers  {question_id, value}
func AnswerHandler(svc *attempt.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req answerReq
		if err := decode(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}
		who := actor(r)
		a, err := svc.Answer(r.Context(), who, chi.URLParam(r, "attemptID"), req.QuestionID, req.Value)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, svc.View(who, a))
	}
}

// POST /attempts/{attemptID}/tick
func TickHandler(svc *attempt.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who := actor(r)
		a, err := svc.Tick(r.Context(), who, chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, svc.View(who, a))
	}
}

// POST /attempts/{attemptID}/submit
func SubmitHandler(svc *attempt.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.Submit(r.Context(), actor(r), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type gradeReq struct {
	Items map[string]grading.ManualGrade `json:"items" validate:"required,min=1"` // question_id -> grade
}

// POST /attempts/{attemptID}/grading
func GradeHandler(svc *attempt.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gradeReq
		if err := decode(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}
		rep, err := svc.Grade(r.Context(), actor(r), chi.URLParam(r, "attemptID"), req.Items)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

// POST /attempts/{attemptID}/files  multipart: question_id, file
//
// The file is checked against the upload policy, stored under
// attempts/{attemptID}/ and recorded as the question's answer.
func UploadAnswerHandler(svc *attempt.Service, capt *capture.Capturer, bs storage.BlobStore, maxBytes int64, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attemptID := chi.URLParam(r, "attemptID")
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
		f, hdr, err := r.FormFile("file")
		if err != nil {
			badRequest(w, "file", "file required")
			return
		}
		defer f.Close()
		qid := r.FormValue("question_id")
		if qid == "" {
			badRequest(w, "question_id", "question_id required")
			return
		}
		if err := capt.Allowed(hdr.Filename, hdr.Size); err != nil {
			badRequest(w, "file", err.Error())
			return
		}

		// Only the owner of a live attempt may store files under it.
		who := actor(r)
		a, err := svc.Get(r.Context(), who, attemptID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		if a.UserID != who.UserID {
			writeError(w, r, log, attempt.ErrNotFound)
			return
		}
		if a.Status != attempt.StatusInProgress {
			writeError(w, r, log, attempt.ErrAttemptNotActive)
			return
		}
		q, _, ok := a.Question(qid)
		if !ok {
			writeError(w, r, log, attempt.ErrQuestionNotInAttempt)
			return
		}
		if desc, err := question.Describe(q.Type); err != nil || !desc.RequiresFile {
			badRequest(w, "question_id", capture.ErrInvalidAnswer.Error())
			return
		}

		key, err := bs.Put(r.Context(), storage.NewKey(path.Join("attempts", attemptID), hdr.Filename),
			f, hdr.Size, hdr.Header.Get("Content-Type"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		a, err = svc.Answer(r.Context(), who, attemptID, qid, capture.FileRef{Path: key, Name: hdr.Filename, Size: hdr.Size})
		if err != nil {
			if derr := bs.Delete(r.Context(), key); derr != nil {
				log.Warn("orphan answer file", zap.String("key", key), zap.Error(derr))
			}
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, svc.View(who, a))
	}
}
