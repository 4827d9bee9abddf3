package grading

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRubric    = errors.New("rubric criteria need a unique key and positive max points")
	ErrUnknownCriterion = errors.New("awarded criterion is not in the rubric")
)

// Rubric breaks a free-text or upload answer into separately marked
// criteria. Max, when positive, caps the summed total.
type Rubric struct {
	Criteria []Criterion `json:"criteria"`
	Max      float64     `json:"max_points"`
}

type Criterion struct {
	Key       string  `json:"key"`
	Desc      string  `json:"desc"`
	MaxPoints float64 `json:"max_points"`
}

// Check validates the rubric itself and that every key in awarded names one
// of its criteria. Criteria missing from awarded score zero.
func (r Rubric) Check(awarded map[string]float64) error {
	if len(r.Criteria) == 0 || r.Max < 0 {
		return ErrInvalidRubric
	}
	keys := make(map[string]struct{}, len(r.Criteria))
	for _, c := range r.Criteria {
		k := strings.TrimSpace(c.Key)
		if k == "" || c.MaxPoints <= 0 {
			return ErrInvalidRubric
		}
		if _, dup := keys[k]; dup {
			return fmt.Errorf("%w: duplicate key %q", ErrInvalidRubric, k)
		}
		keys[k] = struct{}{}
	}
	for k := range awarded {
		if _, ok := keys[k]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownCriterion, k)
		}
	}
	return nil
}

// ScoreRubric sums the awarded points per criterion, each clamped to
// [0, MaxPoints], and caps the total at r.Max when set. Notes list each
// criterion as "key:points" in rubric order.
func ScoreRubric(r Rubric, awarded map[string]float64) (float64, []string, error) {
	if err := r.Check(awarded); err != nil {
		return 0, nil, err
	}
	total := 0.0
	notes := make([]string, 0, len(r.Criteria))
	for _, c := range r.Criteria {
		k := strings.TrimSpace(c.Key)
		v := clamp(awarded[k], 0, c.MaxPoints)
		total += v
		notes = append(notes, fmt.Sprintf("%s:%.2f", k, v))
	}
	if r.Max > 0 && total > r.Max {
		total = r.Max
	}
	return total, notes, nil
}
