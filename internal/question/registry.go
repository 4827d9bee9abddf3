package question

import "strings"

// Purpose scopes a question (and the bank it lives in) to one kind of flow.
type Purpose string

const (
	PurposeAssessment Purpose = "assessment"
	PurposeSurvey     Purpose = "survey"
	PurposeFeedback   Purpose = "feedback"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeAssessment, PurposeSurvey, PurposeFeedback:
		return true
	}
	return false
}

// Type is the question kind: multi_choice, checkbox, short_answer, long_answer,
// dropdown, upload or rating.
type Type string

const (
	TypeMultiChoice Type = "multi_choice"
	TypeCheckbox    Type = "checkbox"
	TypeShortAnswer Type = "short_answer"
	TypeLongAnswer  Type = "long_answer"
	TypeDropdown    Type = "dropdown"
	TypeUpload      Type = "upload"
	TypeRating      Type = "rating"
)

type Cardinality string

const (
	CardinalitySingle   Cardinality = "single"
	CardinalityMultiple Cardinality = "multiple"
	CardinalityNone     Cardinality = "none"
)

// Descriptor holds the structural rules for one question type.
type Descriptor struct {
	RequiresOptions   bool        `json:"requiresOptions"`
	OptionCardinality Cardinality `json:"optionCardinality"`
	RequiresRating    bool        `json:"requiresRating"`
	RequiresFreeText  bool        `json:"requiresFreeText"`
	RequiresFile      bool        `json:"requiresFile"`
	// AutoScored is true when an assessment answer can be marked without a grader.
	AutoScored bool `json:"autoScored"`
}

var registry = map[Type]Descriptor{
	TypeMultiChoice: {RequiresOptions: true, OptionCardinality: CardinalitySingle, AutoScored: true},
	TypeDropdown:    {RequiresOptions: true, OptionCardinality: CardinalitySingle, AutoScored: true},
	TypeCheckbox:    {RequiresOptions: true, OptionCardinality: CardinalityMultiple, AutoScored: true},
	TypeShortAnswer: {OptionCardinality: CardinalityNone, RequiresFreeText: true},
	TypeLongAnswer:  {OptionCardinality: CardinalityNone, RequiresFreeText: true},
	TypeUpload:      {OptionCardinality: CardinalityNone, RequiresFile: true},
	TypeRating:      {OptionCardinality: CardinalityNone, RequiresRating: true},
}

// Describe returns the rules for t, or ErrInvalidQuestionType.
func Describe(t Type) (Descriptor, error) {
	d, ok := registry[t]
	if !ok {
		return Descriptor{}, ErrInvalidQuestionType
	}
	return d, nil
}

// Types lists every supported type in a stable order.
func Types() []Type {
	return []Type{
		TypeMultiChoice, TypeCheckbox, TypeShortAnswer, TypeLongAnswer,
		TypeDropdown, TypeUpload, TypeRating,
	}
}

type Level string

const (
	LevelLow    Level = "Low"
	LevelMedium Level = "Medium"
	LevelHard   Level = "Hard"
)

// ParseLevel accepts the canonical names case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return LevelLow, nil
	case "medium":
		return LevelMedium, nil
	case "hard":
		return LevelHard, nil
	}
	return "", ErrInvalidLevel
}

type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
)

func (s Status) Valid() bool { return s == StatusActive || s == StatusInactive }

type RatingSymbol string

const (
	SymbolStar  RatingSymbol = "star"
	SymbolThumb RatingSymbol = "thumb"
	SymbolHeart RatingSymbol = "heart"
)

func (s RatingSymbol) Valid() bool {
	return s == SymbolStar || s == SymbolThumb || s == SymbolHeart
}

const (
	MinRatingScale = 1
	MaxRatingScale = 10
)
