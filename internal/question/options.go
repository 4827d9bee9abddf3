package question

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	DefaultOptionLimit = 10
	MaxOptionTextLen   = 500
)

// Option is one selectable answer. Index is its 1-based position in the set.
type Option struct {
	ID        string `json:"id"`
	Index     int    `json:"index"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct,omitempty"`
	Media     *Media `json:"media,omitempty"`
}

// OptionSet is the ordered option list of a single question. Indices are
// always exactly 1..N.
type OptionSet struct {
	max  int
	opts []Option
}

func NewOptionSet(max int) *OptionSet {
	if max <= 0 {
		max = DefaultOptionLimit
	}
	return &OptionSet{max: max}
}

func (s *OptionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.opts)
}

// Add inserts o at position at (1-based). at <= 0 appends. Later options are
// shifted down by one.
func (s *OptionSet) Add(o Option, at int) error {
	if len(s.opts) >= s.limit() {
		return ErrOptionLimitExceeded
	}
	o.Text = strings.TrimSpace(o.Text)
	if o.Text == "" && o.Media == nil {
		return ErrMissingRequiredField
	}
	if utf8.RuneCountInString(o.Text) > MaxOptionTextLen {
		return ErrOptionTextTooLong
	}
	if err := o.Media.validate(); err != nil {
		return err
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	n := len(s.opts)
	if at <= 0 {
		at = n + 1
	}
	if at > n+1 {
		return ErrOptionIndexOutOfRange
	}
	s.opts = append(s.opts, Option{})
	copy(s.opts[at:], s.opts[at-1:n])
	s.opts[at-1] = o
	s.renumber()
	return nil
}

// Remove deletes the option at index and compacts the rest.
func (s *OptionSet) Remove(index int) error {
	if index < 1 || index > len(s.opts) {
		return ErrOptionIndexOutOfRange
	}
	s.opts = append(s.opts[:index-1], s.opts[index:]...)
	s.renumber()
	return nil
}

// SetCorrect replaces the correct-answer marks. For assessments, single-choice
// types need exactly one index and checkbox needs at least one. Surveys and
// feedback never carry correctness.
func (s *OptionSet) SetCorrect(t Type, p Purpose, indices ...int) error {
	if p != PurposeAssessment {
		return ErrCorrectnessNotApplicable
	}
	d, err := Describe(t)
	if err != nil {
		return err
	}
	seen := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i < 1 || i > len(s.opts) {
			return ErrOptionIndexOutOfRange
		}
		seen[i] = struct{}{}
	}
	switch d.OptionCardinality {
	case CardinalitySingle:
		if len(seen) != 1 {
			return ErrInvalidCorrectnessCardinality
		}
	case CardinalityMultiple:
		if len(seen) < 1 {
			return ErrInvalidCorrectnessCardinality
		}
	default:
		return ErrOptionSetNotAllowed
	}
	for i := range s.opts {
		_, ok := seen[i+1]
		s.opts[i].IsCorrect = ok
	}
	return nil
}

// Options returns a copy of the options in index order.
func (s *OptionSet) Options() []Option {
	if s == nil {
		return nil
	}
	out := make([]Option, len(s.opts))
	for i, o := range s.opts {
		o.Media = o.Media.clone()
		out[i] = o
	}
	return out
}

func (s *OptionSet) At(index int) (Option, bool) {
	if s == nil || index < 1 || index > len(s.opts) {
		return Option{}, false
	}
	return s.opts[index-1], true
}

func (s *OptionSet) ByID(id string) (Option, bool) {
	if s == nil {
		return Option{}, false
	}
	for _, o := range s.opts {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// CorrectIDs lists the ids of correct options in index order.
func (s *OptionSet) CorrectIDs() []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, o := range s.opts {
		if o.IsCorrect {
			out = append(out, o.ID)
		}
	}
	return out
}

func (s *OptionSet) Clone() *OptionSet {
	if s == nil {
		return nil
	}
	return &OptionSet{max: s.max, opts: s.Options()}
}

func (s *OptionSet) limit() int {
	if s.max <= 0 {
		return DefaultOptionLimit
	}
	return s.max
}

func (s *OptionSet) renumber() {
	for i := range s.opts {
		s.opts[i].Index = i + 1
	}
}

func (s *OptionSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(s.opts)
}

// UnmarshalJSON loads a stored set as-is; limits are not re-applied so a
// snapshot always decodes.
func (s *OptionSet) UnmarshalJSON(b []byte) error {
	var opts []Option
	if err := json.Unmarshal(b, &opts); err != nil {
		return err
	}
	if s.max == 0 {
		s.max = DefaultOptionLimit
	}
	if len(opts) > s.max {
		s.max = len(opts)
	}
	s.opts = opts
	s.renumber()
	return nil
}
