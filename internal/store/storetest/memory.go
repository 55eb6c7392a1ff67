// Package storetest provides an in-memory document store implementing
// the adapter contract for tests. Filters, ordering, versioned updates,
// and atomic batches behave like the real adapter; nothing touches a
// database.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"planhub/internal/store"
)

type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]json.RawMessage

	// Writes counts mutating calls, so tests can assert an operation
	// failed before reaching the store.
	Writes int
}

func NewMemory() *Memory {
	return &Memory{collections: map[string]map[string]json.RawMessage{}}
}

func (m *Memory) collection(name string) map[string]json.RawMessage {
	if m.collections[name] == nil {
		m.collections[name] = map[string]json.RawMessage{}
	}
	return m.collections[name]
}

func normalize(doc any) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, collection, id string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.collection(collection)[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return raw, nil
}

func (m *Memory) Query(_ context.Context, collection string, filters []store.Filter, order *store.OrderBy, limit, offset int) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type entry struct {
		raw json.RawMessage
		doc map[string]any
	}
	var matched []entry
	for _, raw := range m.collection(collection) {
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		ok := true
		for _, f := range filters {
			if !matches(doc, f) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, entry{raw: raw, doc: doc})
		}
	}
	if order != nil {
		sort.SliceStable(matched, func(i, j int) bool {
			less := lessValue(matched[i].doc[order.Field], matched[j].doc[order.Field])
			if order.Desc {
				return !less
			}
			return less
		})
	} else {
		// Deterministic order for map iteration.
		sort.SliceStable(matched, func(i, j int) bool {
			return fmt.Sprint(matched[i].doc["id"]) < fmt.Sprint(matched[j].doc["id"])
		})
	}
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	out := make([]json.RawMessage, 0, len(matched))
	for _, e := range matched {
		out = append(out, e.raw)
	}
	return out, nil
}

func (m *Memory) Count(ctx context.Context, collection string, filters []store.Filter) (int, error) {
	raws, err := m.Query(ctx, collection, filters, nil, 0, 0)
	if err != nil {
		return 0, err
	}
	return len(raws), nil
}

func (m *Memory) Set(_ context.Context, collection, id string, doc any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	return m.setLocked(collection, id, doc)
}

func (m *Memory) setLocked(collection, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	m.collection(collection)[id] = raw
	return nil
}

func (m *Memory) Update(_ context.Context, collection, id string, partial map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	return m.updateLocked(collection, id, partial)
}

func (m *Memory) updateLocked(collection, id string, partial map[string]any) error {
	raw, ok := m.collection(collection)[id]
	if !ok {
		return store.ErrNotFound
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	normalized, err := normalize(partial)
	if err != nil {
		return err
	}
	for key, value := range normalized {
		doc[key] = value
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	m.collection(collection)[id] = merged
	return nil
}

func (m *Memory) UpdateVersioned(_ context.Context, collection, id string, partial map[string]any, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	raw, ok := m.collection(collection)[id]
	if !ok {
		return store.ErrNotFound
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	version, _ := doc["version"].(float64)
	if int64(version) != expectedVersion {
		return store.ErrVersionConflict
	}
	return m.updateLocked(collection, id, partial)
}

// Delete removes the document. Deleting an absent id is a no-op, same
// as the SQL adapter.
func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	delete(m.collection(collection), id)
	return nil
}

// AtomicBatch applies every op against a copy first, so a failure
// leaves the store untouched.
func (m *Memory) AtomicBatch(_ context.Context, ops []store.BatchOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++

	backup := make(map[string]map[string]json.RawMessage, len(m.collections))
	for name, docs := range m.collections {
		copied := make(map[string]json.RawMessage, len(docs))
		for id, raw := range docs {
			copied[id] = raw
		}
		backup[name] = copied
	}

	for _, op := range ops {
		var err error
		switch op.Type {
		case store.BatchSet:
			err = m.setLocked(op.Collection, op.ID, op.Doc)
		case store.BatchUpdate:
			err = m.updateLocked(op.Collection, op.ID, op.Partial)
		case store.BatchDelete:
			delete(m.collection(op.Collection), op.ID)
		default:
			err = fmt.Errorf("unknown batch op %q", op.Type)
		}
		if err != nil {
			m.collections = backup
			return err
		}
	}
	return nil
}

func matches(doc map[string]any, f store.Filter) bool {
	value := doc[f.Field]
	expectedRaw, err := json.Marshal(f.Value)
	if err != nil {
		return false
	}
	var expected any
	if err := json.Unmarshal(expectedRaw, &expected); err != nil {
		return false
	}

	switch f.Op {
	case store.OpEq:
		if expected == nil {
			return value == nil
		}
		return reflect.DeepEqual(value, expected)
	case store.OpContains:
		items, ok := value.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if containsMatch(item, expected) {
				return true
			}
		}
		return false
	case store.OpLt:
		return lessValue(value, expected)
	case store.OpLte:
		return lessValue(value, expected) || reflect.DeepEqual(value, expected)
	case store.OpGt:
		return lessValue(expected, value)
	case store.OpGte:
		return lessValue(expected, value) || reflect.DeepEqual(value, expected)
	default:
		return false
	}
}

// containsMatch applies JSONB containment: objects match when every
// expected key is present with an equal value.
func containsMatch(item, expected any) bool {
	expectedMap, ok := expected.(map[string]any)
	if !ok {
		return reflect.DeepEqual(item, expected)
	}
	itemMap, ok := item.(map[string]any)
	if !ok {
		return false
	}
	for key, want := range expectedMap {
		if !reflect.DeepEqual(itemMap[key], want) {
			return false
		}
	}
	return true
}

func lessValue(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return af < bf
	}
	// RFC 3339 timestamps order lexicographically.
	return fmt.Sprint(a) < fmt.Sprint(b)
}
