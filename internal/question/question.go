package question

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Body carries the type-specific part of a question. Exactly one variant
// exists per type family, so a question can never hold fields that its type
// does not allow.
type Body interface {
	body()
}

// Choices is the body of multi_choice, checkbox and dropdown questions.
type Choices struct {
	Options *OptionSet
}

// RatingScale is the body of rating questions.
type RatingScale struct {
	Scale  int
	Symbol RatingSymbol
}

// FreeText is the body of short_answer and long_answer questions.
type FreeText struct{}

// FileUpload is the body of upload questions.
type FileUpload struct{}

func (Choices) body()     {}
func (RatingScale) body() {}
func (FreeText) body()    {}
func (FileUpload) body()  {}

type Question struct {
	ID      string
	Purpose Purpose
	Type    Type
	Prompt  string
	Tags    []string
	Skills  []string
	Level   Level
	Marks   int
	Media   *Media
	Body    Body
	Status  Status

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OptionDraft is one option as submitted by the authoring form.
type OptionDraft struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct,omitempty"`
	Media     *Media `json:"media,omitempty"`
}

// Draft is the full authoring payload. Edits submit a whole new Draft.
type Draft struct {
	Purpose      Purpose       `json:"purpose"`
	Type         Type          `json:"type"`
	Prompt       string        `json:"prompt_text"`
	Tags         []string      `json:"tags"`
	Skills       []string      `json:"skills,omitempty"`
	Level        string        `json:"level,omitempty"`
	Marks        int           `json:"marks,omitempty"`
	Media        *Media        `json:"media,omitempty"`
	Options      []OptionDraft `json:"options,omitempty"`
	RatingScale  int           `json:"rating_scale,omitempty"`
	RatingSymbol RatingSymbol  `json:"rating_symbol,omitempty"`
	Status       Status        `json:"status,omitempty"`
}

// Rules are the authoring limits applied on construction.
type Rules struct {
	MaxOptions int
}

var DefaultRules = Rules{MaxOptions: DefaultOptionLimit}

// New validates d and builds a question with the given id.
func New(id string, d Draft) (Question, error) { return DefaultRules.New(id, d) }

func (r Rules) New(id string, d Draft) (Question, error) {
	if !d.Purpose.Valid() {
		return Question{}, fieldErr("purpose", ErrInvalidPurpose)
	}
	desc, err := Describe(d.Type)
	if err != nil {
		return Question{}, fieldErr("type", err)
	}
	q := Question{
		ID:      id,
		Purpose: d.Purpose,
		Type:    d.Type,
		Prompt:  strings.TrimSpace(d.Prompt),
		Tags:    normalizeSet(d.Tags),
		Status:  d.Status,
	}
	if q.Prompt == "" {
		return Question{}, fieldErr("prompt_text", ErrMissingRequiredField)
	}
	if len(q.Tags) == 0 {
		return Question{}, fieldErr("tags", ErrMissingRequiredField)
	}
	if q.Status == "" {
		q.Status = StatusActive
	}
	if !q.Status.Valid() {
		return Question{}, fieldErr("status", ErrInvalidStatus)
	}

	if d.Purpose == PurposeAssessment {
		q.Skills = normalizeSet(d.Skills)
		q.Level = LevelMedium
		if strings.TrimSpace(d.Level) != "" {
			lv, err := ParseLevel(d.Level)
			if err != nil {
				return Question{}, fieldErr("level", err)
			}
			q.Level = lv
		}
		switch {
		case d.Marks < 0:
			return Question{}, fieldErr("marks", ErrInvalidMarks)
		case d.Marks == 0:
			q.Marks = 1
		default:
			q.Marks = d.Marks
		}
	}

	if err := d.Media.validate(); err != nil {
		return Question{}, fieldErr("media", err)
	}
	q.Media = d.Media.clone()

	switch {
	case desc.RequiresOptions:
		if d.RatingScale != 0 || d.RatingSymbol != "" {
			return Question{}, fieldErr("rating_scale", ErrRatingNotAllowed)
		}
		set, err := r.buildOptions(d)
		if err != nil {
			return Question{}, err
		}
		q.Body = Choices{Options: set}
	case desc.RequiresRating:
		if len(d.Options) > 0 {
			return Question{}, fieldErr("options", ErrOptionSetNotAllowed)
		}
		if d.RatingScale < MinRatingScale || d.RatingScale > MaxRatingScale {
			return Question{}, fieldErr("rating_scale", ErrInvalidRating)
		}
		if !d.RatingSymbol.Valid() {
			return Question{}, fieldErr("rating_symbol", ErrInvalidRating)
		}
		q.Body = RatingScale{Scale: d.RatingScale, Symbol: d.RatingSymbol}
	default:
		if len(d.Options) > 0 {
			return Question{}, fieldErr("options", ErrOptionSetNotAllowed)
		}
		if d.RatingScale != 0 || d.RatingSymbol != "" {
			return Question{}, fieldErr("rating_scale", ErrRatingNotAllowed)
		}
		if desc.RequiresFile {
			q.Body = FileUpload{}
		} else {
			q.Body = FreeText{}
		}
	}
	return q, nil
}

func (r Rules) buildOptions(d Draft) (*OptionSet, error) {
	if len(d.Options) == 0 {
		return nil, fieldErr("options", ErrOptionSetRequired)
	}
	set := NewOptionSet(r.MaxOptions)
	var correct []int
	for i, od := range d.Options {
		if err := set.Add(Option{Text: od.Text, Media: od.Media.clone()}, 0); err != nil {
			return nil, fieldErr("options", err)
		}
		if od.IsCorrect {
			correct = append(correct, i+1)
		}
	}
	if d.Purpose != PurposeAssessment {
		if len(correct) > 0 {
			return nil, fieldErr("options", ErrCorrectnessNotApplicable)
		}
		return set, nil
	}
	if err := set.SetCorrect(d.Type, d.Purpose, correct...); err != nil {
		return nil, fieldErr("options", err)
	}
	return set, nil
}

// Replace applies a full edit. The id and purpose carry over from q; a draft
// naming another purpose is rejected.
func (r Rules) Replace(q Question, d Draft) (Question, error) {
	if d.Purpose == "" {
		d.Purpose = q.Purpose
	}
	if d.Purpose != q.Purpose {
		return Question{}, fieldErr("purpose", ErrPurposeImmutable)
	}
	if d.Status == "" {
		d.Status = q.Status
	}
	next, err := r.New(q.ID, d)
	if err != nil {
		return Question{}, err
	}
	next.CreatedAt = q.CreatedAt
	return next, nil
}

// Options returns the option set of a choice question, or nil.
func (q Question) Options() *OptionSet {
	if c, ok := q.Body.(Choices); ok {
		return c.Options
	}
	return nil
}

// Rating returns the rating configuration of a rating question.
func (q Question) Rating() (RatingScale, bool) {
	r, ok := q.Body.(RatingScale)
	return r, ok
}

func (q Question) Active() bool { return q.Status == StatusActive }

// HasAnyTag reports whether q carries at least one of tags (case-insensitive).
func (q Question) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		want = strings.ToLower(strings.TrimSpace(want))
		for _, t := range q.Tags {
			if strings.ToLower(t) == want {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy, detached from q's slices and option set.
func (q Question) Clone() Question {
	c := q
	c.Tags = append([]string(nil), q.Tags...)
	c.Skills = append([]string(nil), q.Skills...)
	c.Media = q.Media.clone()
	if ch, ok := q.Body.(Choices); ok {
		c.Body = Choices{Options: ch.Options.Clone()}
	}
	return c
}

// StudentView is the copy served to learners: correctness flags removed.
func (q Question) StudentView() Question {
	c := q.Clone()
	if ch, ok := c.Body.(Choices); ok && ch.Options != nil {
		for i := range ch.Options.opts {
			ch.Options.opts[i].IsCorrect = false
		}
	}
	return c
}

// Restore rebuilds a question from stored state without re-running authoring
// validation. Stores use it when loading rows.
func Restore(q Question, options []Option, scale int, symbol RatingSymbol) Question {
	desc, err := Describe(q.Type)
	if err != nil {
		return q
	}
	switch {
	case desc.RequiresOptions:
		set := &OptionSet{max: DefaultOptionLimit, opts: append([]Option(nil), options...)}
		if len(set.opts) > set.max {
			set.max = len(set.opts)
		}
		sort.SliceStable(set.opts, func(i, j int) bool { return set.opts[i].Index < set.opts[j].Index })
		set.renumber()
		q.Body = Choices{Options: set}
	case desc.RequiresRating:
		q.Body = RatingScale{Scale: scale, Symbol: symbol}
	case desc.RequiresFile:
		q.Body = FileUpload{}
	default:
		q.Body = FreeText{}
	}
	return q
}

type wireQuestion struct {
	ID           string       `json:"id"`
	Purpose      Purpose      `json:"purpose"`
	Type         Type         `json:"type"`
	Prompt       string       `json:"prompt_text"`
	Tags         []string     `json:"tags"`
	Skills       []string     `json:"skills,omitempty"`
	Level        Level        `json:"level,omitempty"`
	Marks        int          `json:"marks,omitempty"`
	Media        *Media       `json:"media,omitempty"`
	Options      *OptionSet   `json:"options,omitempty"`
	RatingScale  int          `json:"rating_scale,omitempty"`
	RatingSymbol RatingSymbol `json:"rating_symbol,omitempty"`
	Status       Status       `json:"status"`
	CreatedAt    *time.Time   `json:"created_at,omitempty"`
	UpdatedAt    *time.Time   `json:"updated_at,omitempty"`
}

func (q Question) MarshalJSON() ([]byte, error) {
	w := wireQuestion{
		ID: q.ID, Purpose: q.Purpose, Type: q.Type, Prompt: q.Prompt,
		Tags: q.Tags, Skills: q.Skills, Level: q.Level, Marks: q.Marks,
		Media: q.Media, Status: q.Status,
	}
	if w.Tags == nil {
		w.Tags = []string{}
	}
	switch b := q.Body.(type) {
	case Choices:
		w.Options = b.Options
	case RatingScale:
		w.RatingScale, w.RatingSymbol = b.Scale, b.Symbol
	}
	if !q.CreatedAt.IsZero() {
		t := q.CreatedAt
		w.CreatedAt = &t
	}
	if !q.UpdatedAt.IsZero() {
		t := q.UpdatedAt
		w.UpdatedAt = &t
	}
	return json.Marshal(w)
}

func (q *Question) UnmarshalJSON(b []byte) error {
	var w wireQuestion
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*q = Question{
		ID: w.ID, Purpose: w.Purpose, Type: w.Type, Prompt: w.Prompt,
		Tags: w.Tags, Skills: w.Skills, Level: w.Level, Marks: w.Marks,
		Media: w.Media, Status: w.Status,
	}
	if w.CreatedAt != nil {
		q.CreatedAt = *w.CreatedAt
	}
	if w.UpdatedAt != nil {
		q.UpdatedAt = *w.UpdatedAt
	}
	var opts []Option
	if w.Options != nil {
		opts = w.Options.opts
	}
	*q = Restore(*q, opts, w.RatingScale, w.RatingSymbol)
	return nil
}

func normalizeSet(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		k := strings.ToLower(s)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}
