package capture

import "encoding/json"

// ResponseSet holds at most one Response per question, in first-answered
// order. Re-answering replaces the stored response in place.
type ResponseSet struct {
	items []Response
}

func (s *ResponseSet) Put(r Response) {
	for i := range s.items {
		if s.items[i].QuestionID == r.QuestionID {
			s.items[i] = r.clone()
			return
		}
	}
	s.items = append(s.items, r.clone())
}

func (s *ResponseSet) Get(questionID string) (Response, bool) {
	for _, r := range s.items {
		if r.QuestionID == questionID {
			return r.clone(), true
		}
	}
	return Response{}, false
}

func (s *ResponseSet) Len() int { return len(s.items) }

// All returns copies of every response.
func (s *ResponseSet) All() []Response {
	out := make([]Response, len(s.items))
	for i, r := range s.items {
		out[i] = r.clone()
	}
	return out
}

// ByQuestion indexes the responses by question id.
func (s *ResponseSet) ByQuestion() map[string]Response {
	out := make(map[string]Response, len(s.items))
	for _, r := range s.items {
		out[r.QuestionID] = r.clone()
	}
	return out
}

func (s *ResponseSet) Clone() ResponseSet {
	return ResponseSet{items: s.All()}
}

func (s ResponseSet) MarshalJSON() ([]byte, error) {
	if s.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.items)
}

func (s *ResponseSet) UnmarshalJSON(b []byte) error {
	var items []Response
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	s.items = nil
	for _, r := range items {
		s.Put(r)
	}
	return nil
}
