package bank

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mind-engage/mindengage-qbank/internal/question"
)

type memEntry struct {
	seq int
	q   question.Question
}

type memoryStore struct {
	mu          sync.RWMutex
	seq         int
	questions   map[string]map[string]*memEntry // tenant -> id -> entry
	assessments map[string]map[string]Assessment
}

func NewInMemoryStore() Store {
	return &memoryStore{
		questions:   map[string]map[string]*memEntry{},
		assessments: map[string]map[string]Assessment{},
	}
}

func (m *memoryStore) InsertQuestion(_ context.Context, tenantID string, q question.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.questions[tenantID]
	if t == nil {
		t = map[string]*memEntry{}
		m.questions[tenantID] = t
	}
	m.seq++
	t[q.ID] = &memEntry{seq: m.seq, q: q.Clone()}
	return nil
}

func (m *memoryStore) UpdateQuestion(_ context.Context, tenantID string, q question.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.questions[tenantID][q.ID]
	if !ok {
		return ErrNotFound
	}
	e.q = q.Clone()
	return nil
}

func (m *memoryStore) GetQuestion(_ context.Context, tenantID, id string) (question.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.questions[tenantID][id]
	if !ok {
		return question.Question{}, ErrNotFound
	}
	return e.q.Clone(), nil
}

func (m *memoryStore) SearchQuestions(_ context.Context, tenantID string, f Filter, offset, limit int) ([]question.Question, int, error) {
	m.mu.RLock()
	matched := make([]*memEntry, 0)
	for _, e := range m.questions[tenantID] {
		if matches(e.q, f) {
			matched = append(matched, e)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	switch f.Sort {
	case SortCreatedAt:
		sort.SliceStable(matched, func(i, j int) bool {
			a, b := matched[i].q.CreatedAt, matched[j].q.CreatedAt
			if f.Desc {
				return a.After(b)
			}
			return a.Before(b)
		})
	case SortPrompt:
		sort.SliceStable(matched, func(i, j int) bool {
			a, b := strings.ToLower(matched[i].q.Prompt), strings.ToLower(matched[j].q.Prompt)
			if f.Desc {
				return a > b
			}
			return a < b
		})
	}

	total := len(matched)
	if offset >= total {
		return []question.Question{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]question.Question, 0, end-offset)
	for _, e := range matched[offset:end] {
		out = append(out, e.q.Clone())
	}
	return out, total, nil
}

func matches(q question.Question, f Filter) bool {
	if f.Purpose != "" && q.Purpose != f.Purpose {
		return false
	}
	if f.Type != "" && q.Type != f.Type {
		return false
	}
	if f.Status != "" && q.Status != f.Status {
		return false
	}
	if f.Text != "" && !strings.Contains(strings.ToLower(q.Prompt), strings.ToLower(f.Text)) {
		return false
	}
	if len(f.Tags) > 0 && !q.HasAnyTag(f.Tags) {
		return false
	}
	return true
}

func (m *memoryStore) PutAssessment(_ context.Context, a Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.assessments[a.TenantID]
	if t == nil {
		t = map[string]Assessment{}
		m.assessments[a.TenantID] = t
	}
	a.QuestionIDs = append([]string(nil), a.QuestionIDs...)
	t[a.ID] = a
	return nil
}

func (m *memoryStore) GetAssessment(_ context.Context, tenantID, id string) (Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assessments[tenantID][id]
	if !ok {
		return Assessment{}, ErrNotFound
	}
	a.QuestionIDs = append([]string(nil), a.QuestionIDs...)
	return a, nil
}
