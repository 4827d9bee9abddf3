package question

import (
	"errors"
	"fmt"
)

// Validation errors. All of them are client-caused; nothing is written when
// one is returned.
var (
	ErrMissingRequiredField          = errors.New("missing required field")
	ErrInvalidQuestionType           = errors.New("invalid question type")
	ErrInvalidPurpose                = errors.New("invalid purpose")
	ErrOptionSetRequired             = errors.New("option set required for this question type")
	ErrOptionSetNotAllowed           = errors.New("option set not allowed for this question type")
	ErrOptionLimitExceeded           = errors.New("option limit exceeded")
	ErrOptionIndexOutOfRange         = errors.New("option index out of range")
	ErrOptionTextTooLong             = errors.New("option text too long")
	ErrInvalidCorrectnessCardinality = errors.New("invalid number of correct options")
	ErrCorrectnessNotApplicable      = errors.New("correctness not applicable to this purpose")
	ErrInvalidLevel                  = errors.New("invalid level")
	ErrInvalidMarks                  = errors.New("invalid marks")
	ErrInvalidRating                 = errors.New("invalid rating configuration")
	ErrRatingNotAllowed              = errors.New("rating not allowed for this question type")
	ErrInvalidMedia                  = errors.New("invalid media attachment")
	ErrInvalidStatus                 = errors.New("invalid status")
	ErrPurposeImmutable              = errors.New("purpose cannot change on edit")
)

// FieldError ties a validation failure to the payload field that caused it.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return fmt.Sprintf("%s: %v", e.Field, e.Err) }
func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(field string, err error) error { return &FieldError{Field: field, Err: err} }

// IsValidation reports whether err belongs to the validation taxonomy.
func IsValidation(err error) bool {
	var fe *FieldError
	if errors.As(err, &fe) {
		return true
	}
	for _, v := range []error{
		ErrMissingRequiredField, ErrInvalidQuestionType, ErrInvalidPurpose,
		ErrOptionSetRequired, ErrOptionSetNotAllowed, ErrOptionLimitExceeded,
		ErrOptionIndexOutOfRange, ErrOptionTextTooLong, ErrInvalidCorrectnessCardinality,
		ErrCorrectnessNotApplicable, ErrInvalidLevel, ErrInvalidMarks, ErrInvalidRating,
		ErrRatingNotAllowed, ErrInvalidMedia, ErrInvalidStatus, ErrPurposeImmutable,
	} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}
