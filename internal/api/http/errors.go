package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-qbank/internal/attempt"
	"github.com/mind-engage/mindengage-qbank/internal/bank"
	"github.com/mind-engage/mindengage-qbank/internal/capture"
	"github.com/mind-engage/mindengage-qbank/internal/question"
	"github.com/mind-engage/mindengage-qbank/internal/storage"
)

var validate = newValidator()

// newValidator reports json field names in validation errors.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Field: field})
}

var captureErrors = []error{
	capture.ErrOptionNotInQuestion, capture.ErrRatingOutOfRange,
	capture.ErrUnsupportedMediaType, capture.ErrFileTooLarge, capture.ErrInvalidAnswer,
}

// writeError maps domain errors onto status codes: validation 400, missing
// 404, workflow state 409, anything else 500.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var (
		ve validator.ValidationErrors
		fe *question.FieldError
	)
	switch {
	case errors.As(err, &ve):
		f := ve[0]
		badRequest(w, f.Namespace()[strings.Index(f.Namespace(), ".")+1:], "failed "+f.Tag()+" validation")
	case errors.As(err, &fe):
		badRequest(w, fe.Field, fe.Err.Error())
	case question.IsValidation(err), isCaptureError(err):
		badRequest(w, "", err.Error())
	case errors.Is(err, attempt.ErrQuestionNotInAttempt):
		badRequest(w, "question_id", err.Error())
	case errors.Is(err, storage.ErrInvalidKey):
		badRequest(w, "path", err.Error())
	case errors.Is(err, bank.ErrNotFound), errors.Is(err, attempt.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, attempt.ErrAttemptNotActive), errors.Is(err, attempt.ErrAttemptAlreadyInProgress),
		errors.Is(err, attempt.ErrNotFinished), errors.Is(err, attempt.ErrNotScored), errors.Is(err, bank.ErrNoQuestions):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func isCaptureError(err error) bool {
	for _, e := range captureErrors {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// decode reads a JSON body into v and runs struct validation.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &question.FieldError{Field: "body", Err: errBadJSON}
	}
	return validate.Struct(v)
}

var errBadJSON = errors.New("bad json")
