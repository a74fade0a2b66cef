package store

import (
	"encoding/json"
	"fmt"

	"github.com/seantiz/bulkq/internal/model"
)

// encodeJSONColumns serializes the structured columns of e. Absent values
// encode as NULL.
func encodeJSONColumns(e *model.WorkEntry) (params, cb any, err error) {
	if len(e.ScopeParameters) > 0 {
		raw, err := json.Marshal(e.ScopeParameters)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal scope parameters: %w", err)
		}
		params = string(raw)
	}
	if e.Callback != nil {
		raw, err := json.Marshal(e.Callback)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal callback: %w", err)
		}
		cb = string(raw)
	}
	return params, cb, nil
}

func decodeJSONColumns(e *model.WorkEntry, params, cb string) error {
	if params != "" {
		if err := json.Unmarshal([]byte(params), &e.ScopeParameters); err != nil {
			return fmt.Errorf("unmarshal scope parameters: %w", err)
		}
	}
	if cb != "" {
		e.Callback = &model.Callback{}
		if err := json.Unmarshal([]byte(cb), e.Callback); err != nil {
			return fmt.Errorf("unmarshal callback: %w", err)
		}
	}
	return nil
}

// normalizeContent restores the distinction between no content and empty
// content, which drivers collapse when scanning an empty blob.
func normalizeContent(e *model.WorkEntry, hasContent bool) {
	switch {
	case !hasContent:
		e.Content = nil
	case e.Content == nil:
		e.Content = []byte{}
	}
}

func newStats() *Stats {
	return &Stats{CountByStage: make(map[model.Kind]map[model.Stage]int)}
}

func (s *Stats) add(kind model.Kind, stage model.Stage, n int) {
	m, ok := s.CountByStage[kind]
	if !ok {
		m = make(map[model.Stage]int)
		s.CountByStage[kind] = m
	}
	m[stage] += n
	s.Total += n
}
