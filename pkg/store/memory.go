package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps documents in process memory. It backs tests and dry runs.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string][]byte),
	}
}

// Upsert inserts or replaces one document
func (s *MemoryStore) Upsert(ctx context.Context, collection string, doc Document) (bool, error) {
	changed, err := s.UpsertMany(ctx, collection, []Document{doc})
	return changed == 1, err
}

// UpsertMany inserts or replaces documents under a single lock
func (s *MemoryStore) UpsertMany(ctx context.Context, collection string, docs []Document) (int, error) {
	if err := validCollection(collection); err != nil {
		return 0, err
	}
	for _, doc := range docs {
		if doc.ID == "" {
			return 0, fmt.Errorf("document id must not be empty")
		}
		if !json.Valid(doc.Data) {
			return 0, fmt.Errorf("document %s is not valid JSON", doc.ID)
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		c = make(map[string][]byte)
		s.collections[collection] = c
	}

	changed := 0
	for _, doc := range docs {
		if existing, ok := c[doc.ID]; ok && bytes.Equal(existing, doc.Data) {
			continue
		}
		c[doc.ID] = append([]byte(nil), doc.Data...)
		changed++
	}
	return changed, nil
}

// Query evaluates the filter against every document in the collection
func (s *MemoryStore) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	if err := validCollection(collection); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	type row struct {
		doc    Document
		fields map[string]interface{}
	}
	rows := make([]row, 0, len(s.collections[collection]))
	for id, data := range s.collections[collection] {
		fields := make(map[string]interface{})
		if err := json.Unmarshal(data, &fields); err != nil {
			s.mu.RUnlock()
			return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
		}
		fields["id"] = id
		rows = append(rows, row{doc: Document{ID: id, Data: append([]byte(nil), data...)}, fields: fields})
	}
	s.mu.RUnlock()

	matched := rows[:0]
	for _, r := range rows {
		ok := true
		for _, cond := range filter.Conditions {
			if !matchCondition(r.fields[cond.Field], cond) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, r)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if filter.OrderBy != "" {
			cmp, ok := compareFields(matched[i].fields[filter.OrderBy], matched[j].fields[filter.OrderBy])
			if ok && cmp != 0 {
				if filter.Descending {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return matched[i].doc.ID < matched[j].doc.ID
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]Document, 0, len(matched))
	for _, r := range matched {
		out = append(out, r.doc)
	}
	return out, nil
}

func matchCondition(field interface{}, cond Condition) bool {
	var cmp int
	switch kindOf(cond.Value) {
	case valueString:
		s, ok := field.(string)
		if !ok {
			return false
		}
		cmp = strings.Compare(s, cond.Value.(string))
	case valueBool:
		b, ok := field.(bool)
		if !ok || cond.Op != OpEq {
			return false
		}
		return b == cond.Value.(bool)
	case valueNumber:
		n, ok := field.(float64)
		if !ok {
			return false
		}
		v, _ := toFloat(cond.Value)
		cmp = compareFloat(n, v)
	case valueTime:
		s, ok := field.(string)
		if !ok {
			return false
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return false
		}
		cmp = t.Compare(cond.Value.(time.Time))
	default:
		return false
	}

	switch cond.Op {
	case OpEq:
		return cmp == 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

// compareFields orders two decoded JSON values of the same kind.
// RFC3339 strings are compared as instants.
func compareFields(a, b interface{}) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		return compareFloat(av, bv), true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		at, errA := time.Parse(time.RFC3339Nano, av)
		bt, errB := time.Parse(time.RFC3339Nano, bv)
		if errA == nil && errB == nil {
			return at.Compare(bt), true
		}
		return strings.Compare(av, bv), true
	}
	return 0, false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
