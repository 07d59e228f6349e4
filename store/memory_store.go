package store

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation for testing and
// reference use. It stores documents in a map keyed by the configured key
// field, without any filesystem dependency. Safe for concurrent use.
//
// Uses a mutex-guarded map of keyed documents.
type MemoryStore struct {
	name             string
	key              string
	lastUpdatedField string

	mu        sync.RWMutex
	docs      map[any]Document
	connected bool
	closed    bool
}

// NewMemoryStore creates a new in-memory document store.
func NewMemoryStore(name, key, lastUpdatedField string) *MemoryStore {
	return &MemoryStore{
		name:             name,
		key:              key,
		lastUpdatedField: lastUpdatedField,
		docs:             make(map[any]Document),
	}
}

// Connect implements Store. Idempotent.
func (m *MemoryStore) Connect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.closed = false
	return nil
}

// Close implements Store. Idempotent.
func (m *MemoryStore) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.connected = false
	return nil
}

// Key implements Store.
func (m *MemoryStore) Key() string { return m.key }

// LastUpdatedField implements Store.
func (m *MemoryStore) LastUpdatedField() string { return m.lastUpdatedField }

// Name implements Store.
func (m *MemoryStore) Name() string { return m.name }

func (m *MemoryStore) snapshot() []Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d.Clone())
	}
	return out
}

// Query implements Store.
func (m *MemoryStore) Query(_ context.Context, q Query) iter.Seq2[Document, error] {
	docs := m.snapshot()
	criteria := normalize(q.Criteria)
	matched := make([]Document, 0, len(docs))
	for _, d := range docs {
		if criteria.Match(d) {
			matched = append(matched, d)
		}
	}
	if len(q.Sort) > 0 {
		sortDocuments(matched, q.Sort)
	} else {
		// Map iteration order is randomized; without an explicit sort,
		// pagination (Skip/Limit) across separate Query calls would
		// otherwise see a different order each time. Sort by key for a
		// stable default.
		sortDocuments(matched, []SortField{{Field: m.key}})
	}
	proj := withProjectionDefaults(q, m.key, m.lastUpdatedField)

	return func(yield func(Document, error) bool) {
		for i, d := range matched {
			if i < q.Skip {
				continue
			}
			if q.Limit > 0 && i >= q.Skip+q.Limit {
				return
			}
			if !yield(project(d, proj), nil) {
				return
			}
		}
	}
}

// QueryOne implements Store.
func (m *MemoryStore) QueryOne(ctx context.Context, q Query) (Document, bool, error) {
	q.Limit = 1
	for d, err := range m.Query(ctx, q) {
		return d, true, err
	}
	return nil, false, nil
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context, criteria Criteria) (int, error) {
	criteria = normalize(criteria)
	n := 0
	for _, d := range m.snapshot() {
		if criteria.Match(d) {
			n++
		}
	}
	return n, nil
}

// Distinct implements Store.
func (m *MemoryStore) Distinct(_ context.Context, field string, criteria Criteria) ([]any, error) {
	criteria = normalize(criteria)
	seen := map[any]struct{}{}
	var out []any
	for _, d := range m.snapshot() {
		if !criteria.Match(d) {
			continue
		}
		v, ok := d[field]
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

// GroupBy implements Store.
func (m *MemoryStore) GroupBy(_ context.Context, fields []string, criteria Criteria) (iter.Seq2[GroupKey, iter.Seq[Document]], error) {
	criteria = normalize(criteria)
	groups := groupDocuments(m.snapshot(), fields, criteria)
	return func(yield func(GroupKey, iter.Seq[Document]) bool) {
		for _, g := range groups {
			members := g.members
			seq := func(y func(Document) bool) {
				for _, d := range members {
					if !y(d) {
						return
					}
				}
			}
			if !yield(g.key, seq) {
				return
			}
		}
	}, nil
}

// Update implements Store: upsert keyed by keyFields (default: the Store's
// own Key), bulk, idempotent on the composite key.
func (m *MemoryStore) Update(_ context.Context, docs []Document, keyFields []string) error {
	if len(keyFields) == 0 {
		keyFields = []string{m.key}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		k := compositeKey(d, keyFields)
		m.docs[k] = d.Clone()
	}
	return nil
}

// RemoveDocs implements Store.
func (m *MemoryStore) RemoveDocs(_ context.Context, criteria Criteria) (int, error) {
	criteria = normalize(criteria)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, d := range m.docs {
		if criteria.Match(d) {
			delete(m.docs, k)
			n++
		}
	}
	return n, nil
}

// EnsureIndex implements Store. In-memory storage has no indexes to build;
// this is a deliberate no-op, matching the idempotent-no-structural-change
// contract.
func (m *MemoryStore) EnsureIndex(_ context.Context, _ string, _ bool) error {
	return nil
}

// LastUpdated implements Store.
func (m *MemoryStore) LastUpdated(_ context.Context) (time.Time, error) {
	var max time.Time
	for _, d := range m.snapshot() {
		t, ok := docTime(d, m.lastUpdatedField)
		if ok && t.After(max) {
			max = t
		}
	}
	return max, nil
}

// NewerIn implements Store.
func (m *MemoryStore) NewerIn(ctx context.Context, other Store, criteria Criteria, exhaustive bool) ([]any, error) {
	return newerIn(ctx, m, other, criteria, exhaustive)
}

type docGroup struct {
	key     GroupKey
	members []Document
}

func groupDocuments(docs []Document, fields []string, criteria Criteria) []docGroup {
	order := make([]GroupKey, 0)
	index := make(map[string]int)
	var groups []docGroup
	for _, d := range docs {
		if !criteria.Match(d) {
			continue
		}
		gk := make(GroupKey, len(fields))
		for _, f := range fields {
			gk[f] = d[f]
		}
		sig := groupSig(gk, fields)
		idx, ok := index[sig]
		if !ok {
			index[sig] = len(groups)
			order = append(order, gk)
			groups = append(groups, docGroup{key: gk})
			idx = len(groups) - 1
		}
		groups[idx].members = append(groups[idx].members, d)
	}
	return groups
}

func groupSig(gk GroupKey, fields []string) string {
	s := ""
	for _, f := range fields {
		s += f + "=" + toStringKey(gk[f]) + "|"
	}
	return s
}

func toStringKey(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("%v", t)
	}
}

func compositeKey(d Document, keyFields []string) any {
	if len(keyFields) == 1 {
		return d[keyFields[0]]
	}
	s := ""
	for _, f := range keyFields {
		s += toStringKey(d[f]) + "\x00"
	}
	return s
}

func sortDocuments(docs []Document, sortFields []SortField) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, sf := range sortFields {
			c := compareValues(docs[i][sf.Field], docs[j][sf.Field])
			if c == 0 {
				continue
			}
			if sf.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
	return 0
}

func docTime(d Document, field string) (time.Time, bool) {
	v, ok := d[field]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

