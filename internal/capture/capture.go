package capture

import (
	"encoding/json"
	"errors"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-qbank/internal/question"
)

var (
	ErrOptionNotInQuestion  = errors.New("option does not belong to question")
	ErrRatingOutOfRange     = errors.New("rating out of range")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrFileTooLarge         = errors.New("file too large")
	ErrInvalidAnswer        = errors.New("answer does not match question type")
)

// FileRef points at an uploaded answer file in the media store.
type FileRef struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size"`
}

// Response is one validated, normalized answer. Only the field matching
// Type is set.
type Response struct {
	QuestionID string        `json:"question_id"`
	Type       question.Type `json:"type"`
	OptionID   string        `json:"option_id,omitempty"`
	OptionIDs  []string      `json:"option_ids,omitempty"`
	Text       string        `json:"text,omitempty"`
	File       *FileRef      `json:"file,omitempty"`
	Rating     int           `json:"rating,omitempty"`
	IsLate     bool          `json:"is_late"`
	CapturedAt time.Time     `json:"captured_at"`
}

// Value returns the normalized answer in its natural shape.
func (r Response) Value() any {
	switch r.Type {
	case question.TypeMultiChoice, question.TypeDropdown:
		return r.OptionID
	case question.TypeCheckbox:
		return append([]string(nil), r.OptionIDs...)
	case question.TypeShortAnswer, question.TypeLongAnswer:
		return r.Text
	case question.TypeUpload:
		if r.File == nil {
			return nil
		}
		f := *r.File
		return f
	case question.TypeRating:
		return r.Rating
	}
	return nil
}

// MarkLate flags the response when it was captured after due.
func (r *Response) MarkLate(due *time.Time) {
	r.IsLate = due != nil && r.CapturedAt.After(*due)
}

func (r Response) clone() Response {
	c := r
	c.OptionIDs = append([]string(nil), r.OptionIDs...)
	if r.File != nil {
		f := *r.File
		c.File = &f
	}
	return c
}

// Policy limits uploaded answer files.
type Policy struct {
	AllowedExt []string
	MaxBytes   int64
}

var DefaultPolicy = Policy{
	AllowedExt: []string{"jpg", "jpeg", "png", "gif", "pdf", "mp3", "mp4", "doc", "docx"},
	MaxBytes:   10 << 20,
}

type Capturer struct {
	allowed  map[string]struct{}
	maxBytes int64
	now      func() time.Time
}

type Option func(*Capturer)

func WithClock(now func() time.Time) Option { return func(c *Capturer) { c.now = now } }

func New(p Policy, opts ...Option) *Capturer {
	if len(p.AllowedExt) == 0 {
		p.AllowedExt = DefaultPolicy.AllowedExt
	}
	if p.MaxBytes <= 0 {
		p.MaxBytes = DefaultPolicy.MaxBytes
	}
	c := &Capturer{
		allowed:  make(map[string]struct{}, len(p.AllowedExt)),
		maxBytes: p.MaxBytes,
		now:      time.Now,
	}
	for _, e := range p.AllowedExt {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			c.allowed[e] = struct{}{}
		}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Capture validates raw against q and returns the normalized Response. raw is
// either a decoded JSON value (string, float64, []any, map[string]any) or the
// matching Go type. Nothing is stored.
func (c *Capturer) Capture(q question.Question, raw any) (Response, error) {
	r := Response{QuestionID: q.ID, Type: q.Type, CapturedAt: c.now().UTC()}
	if raw == nil {
		return Response{}, valueErr(question.ErrMissingRequiredField)
	}
	var err error
	switch q.Type {
	case question.TypeMultiChoice, question.TypeDropdown:
		r.OptionID, err = singleOption(q, raw)
	case question.TypeCheckbox:
		r.OptionIDs, err = multiOption(q, raw)
	case question.TypeShortAnswer, question.TypeLongAnswer:
		r.Text, err = freeText(raw)
	case question.TypeRating:
		r.Rating, err = rating(q, raw)
	case question.TypeUpload:
		r.File, err = c.file(raw)
	default:
		err = question.ErrInvalidQuestionType
	}
	if err != nil {
		return Response{}, valueErr(err)
	}
	return r, nil
}

func valueErr(err error) error { return &question.FieldError{Field: "value", Err: err} }

func singleOption(q question.Question, raw any) (string, error) {
	id, ok := raw.(string)
	if !ok {
		return "", ErrInvalidAnswer
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", question.ErrMissingRequiredField
	}
	if _, ok := q.Options().ByID(id); !ok {
		return "", ErrOptionNotInQuestion
	}
	return id, nil
}

func multiOption(q question.Question, raw any) ([]string, error) {
	var ids []string
	switch v := raw.(type) {
	case []string:
		ids = v
	case []any:
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, ErrInvalidAnswer
			}
			ids = append(ids, s)
		}
	case string:
		ids = []string{v}
	default:
		return nil, ErrInvalidAnswer
	}

	set := q.Options()
	type picked struct {
		id    string
		index int
	}
	seen := map[string]struct{}{}
	var out []picked
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		o, ok := set.ByID(id)
		if !ok {
			return nil, ErrOptionNotInQuestion
		}
		seen[id] = struct{}{}
		out = append(out, picked{id: id, index: o.Index})
	}
	if len(out) == 0 {
		return nil, question.ErrMissingRequiredField
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	res := make([]string, len(out))
	for i, p := range out {
		res[i] = p.id
	}
	return res, nil
}

func freeText(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", ErrInvalidAnswer
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", question.ErrMissingRequiredField
	}
	return s, nil
}

func rating(q question.Question, raw any) (int, error) {
	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		if v != math.Trunc(v) {
			return 0, ErrInvalidAnswer
		}
		n = int(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, ErrInvalidAnswer
		}
		n = int(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, ErrInvalidAnswer
		}
		n = i
	default:
		return 0, ErrInvalidAnswer
	}
	scale, _ := q.Rating()
	if n < 1 || n > scale.Scale {
		return 0, ErrRatingOutOfRange
	}
	return n, nil
}

func (c *Capturer) file(raw any) (*FileRef, error) {
	var f FileRef
	switch v := raw.(type) {
	case FileRef:
		f = v
	case *FileRef:
		if v == nil {
			return nil, question.ErrMissingRequiredField
		}
		f = *v
	case map[string]any:
		f.Path, _ = v["path"].(string)
		f.Name, _ = v["name"].(string)
		switch s := v["size"].(type) {
		case float64:
			f.Size = int64(s)
		case int64:
			f.Size = s
		case int:
			f.Size = int64(s)
		}
	default:
		return nil, ErrInvalidAnswer
	}
	f.Path = strings.TrimSpace(f.Path)
	if f.Path == "" {
		return nil, question.ErrMissingRequiredField
	}
	name := f.Name
	if name == "" {
		name = f.Path
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if _, ok := c.allowed[ext]; !ok {
		return nil, ErrUnsupportedMediaType
	}
	if f.Size < 0 {
		return nil, ErrInvalidAnswer
	}
	if f.Size > c.maxBytes {
		return nil, ErrFileTooLarge
	}
	return &f, nil
}

// Allowed reports whether name passes the extension and size policy. The
// upload endpoint checks files with it before they reach the media store.
func (c *Capturer) Allowed(name string, size int64) error {
	_, err := c.file(FileRef{Path: name, Size: size})
	return err
}
