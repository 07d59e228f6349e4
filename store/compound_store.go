package store

import (
	"context"
	"fmt"
	"iter"
	"time"
)

// JoinStore is a compound, read-only Store that widens each document from a
// primary Store with fields looked up from one or more secondary Stores on
// a shared key. Writes are rejected: a JoinStore exists to feed a
// Builder's GetItems, never its UpdateTargets.
type JoinStore struct {
	name       string
	primary    Store
	secondary  []Store
	mergeField string
}

// NewJoinStore creates a Store that, for every document in primary, merges
// in the secondary stores' documents sharing the same mergeField value.
func NewJoinStore(name string, primary Store, mergeField string, secondary ...Store) *JoinStore {
	return &JoinStore{name: name, primary: primary, secondary: secondary, mergeField: mergeField}
}

// Connect implements Store: connects primary and every secondary Store.
func (j *JoinStore) Connect(ctx context.Context) error {
	if err := j.primary.Connect(ctx); err != nil {
		return fmt.Errorf("joinstore: primary: %w", err)
	}
	for _, s := range j.secondary {
		if err := s.Connect(ctx); err != nil {
			return fmt.Errorf("joinstore: secondary %s: %w", s.Name(), err)
		}
	}
	return nil
}

// Close implements Store.
func (j *JoinStore) Close(ctx context.Context) error {
	err := j.primary.Close(ctx)
	for _, s := range j.secondary {
		if e := s.Close(ctx); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// Key implements Store.
func (j *JoinStore) Key() string { return j.primary.Key() }

// LastUpdatedField implements Store.
func (j *JoinStore) LastUpdatedField() string { return j.primary.LastUpdatedField() }

// Name implements Store.
func (j *JoinStore) Name() string { return j.name }

func (j *JoinStore) merged(ctx context.Context) ([]Document, error) {
	var out []Document
	for d, err := range j.primary.Query(ctx, Query{}) {
		if err != nil {
			return nil, err
		}
		merged := d.Clone()
		mergeKey := d[j.mergeField]
		for _, sec := range j.secondary {
			match, ok, err := sec.QueryOne(ctx, Query{Criteria: Eq{j.mergeField: mergeKey}})
			if err != nil {
				return nil, fmt.Errorf("joinstore: secondary %s: %w", sec.Name(), err)
			}
			if !ok {
				continue
			}
			for k, v := range match {
				if k == j.mergeField {
					continue
				}
				merged[k] = v
			}
		}
		out = append(out, merged)
	}
	return out, nil
}

// Query implements Store.
func (j *JoinStore) Query(ctx context.Context, q Query) iter.Seq2[Document, error] {
	docs, err := j.merged(ctx)
	if err != nil {
		return func(yield func(Document, error) bool) { yield(nil, err) }
	}
	criteria := normalize(q.Criteria)
	matched := make([]Document, 0, len(docs))
	for _, d := range docs {
		if criteria.Match(d) {
			matched = append(matched, d)
		}
	}
	if len(q.Sort) > 0 {
		sortDocuments(matched, q.Sort)
	}
	proj := withProjectionDefaults(q, j.Key(), j.LastUpdatedField())
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
func (j *JoinStore) QueryOne(ctx context.Context, q Query) (Document, bool, error) {
	q.Limit = 1
	for d, err := range j.Query(ctx, q) {
		return d, true, err
	}
	return nil, false, nil
}

// Count implements Store.
func (j *JoinStore) Count(ctx context.Context, criteria Criteria) (int, error) {
	docs, err := j.merged(ctx)
	if err != nil {
		return 0, err
	}
	criteria = normalize(criteria)
	n := 0
	for _, d := range docs {
		if criteria.Match(d) {
			n++
		}
	}
	return n, nil
}

// Distinct implements Store.
func (j *JoinStore) Distinct(ctx context.Context, field string, criteria Criteria) ([]any, error) {
	docs, err := j.merged(ctx)
	if err != nil {
		return nil, err
	}
	criteria = normalize(criteria)
	seen := map[any]struct{}{}
	var out []any
	for _, d := range docs {
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
func (j *JoinStore) GroupBy(ctx context.Context, fields []string, criteria Criteria) (iter.Seq2[GroupKey, iter.Seq[Document]], error) {
	docs, err := j.merged(ctx)
	if err != nil {
		return nil, err
	}
	criteria = normalize(criteria)
	groups := groupDocuments(docs, fields, criteria)
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

// Update implements Store. A JoinStore is read-only; Builders must target
// one of its underlying Stores instead.
func (j *JoinStore) Update(context.Context, []Document, []string) error {
	return fmt.Errorf("joinstore: %s is read-only", j.name)
}

// RemoveDocs implements Store. A JoinStore is read-only.
func (j *JoinStore) RemoveDocs(context.Context, Criteria) (int, error) {
	return 0, fmt.Errorf("joinstore: %s is read-only", j.name)
}

// EnsureIndex implements Store by delegating to the primary Store.
func (j *JoinStore) EnsureIndex(ctx context.Context, field string, unique bool) error {
	return j.primary.EnsureIndex(ctx, field, unique)
}

// LastUpdated implements Store: the oldest of the primary's and every
// secondary's LastUpdated, since a merged document is only as fresh as its
// least-recently-updated contributor.
func (j *JoinStore) LastUpdated(ctx context.Context) (time.Time, error) {
	min, err := j.primary.LastUpdated(ctx)
	if err != nil {
		return time.Time{}, err
	}
	for _, s := range j.secondary {
		t, err := s.LastUpdated(ctx)
		if err != nil {
			return time.Time{}, err
		}
		if t.Before(min) {
			min = t
		}
	}
	return min, nil
}

// NewerIn implements Store.
func (j *JoinStore) NewerIn(ctx context.Context, other Store, criteria Criteria, exhaustive bool) ([]any, error) {
	return newerIn(ctx, j, other, criteria, exhaustive)
}

// ConcatStore is a compound, read-only Store that concatenates the
// documents of several Stores sharing the same key and last-updated field
// shape. Useful for treating a set of per-shard Stores as one logical
// source.
type ConcatStore struct {
	name    string
	members []Store
}

// NewConcatStore creates a Store presenting the union of members' documents.
func NewConcatStore(name string, members ...Store) *ConcatStore {
	return &ConcatStore{name: name, members: members}
}

// Connect implements Store.
func (c *ConcatStore) Connect(ctx context.Context) error {
	for _, s := range c.members {
		if err := s.Connect(ctx); err != nil {
			return fmt.Errorf("concatstore: member %s: %w", s.Name(), err)
		}
	}
	return nil
}

// Close implements Store.
func (c *ConcatStore) Close(ctx context.Context) error {
	var err error
	for _, s := range c.members {
		if e := s.Close(ctx); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// Key implements Store.
func (c *ConcatStore) Key() string { return c.members[0].Key() }

// LastUpdatedField implements Store.
func (c *ConcatStore) LastUpdatedField() string { return c.members[0].LastUpdatedField() }

// Name implements Store.
func (c *ConcatStore) Name() string { return c.name }

// Query implements Store: each member is consumed lazily in turn.
func (c *ConcatStore) Query(ctx context.Context, q Query) iter.Seq2[Document, error] {
	criteria := normalize(q.Criteria)
	proj := withProjectionDefaults(q, c.Key(), c.LastUpdatedField())
	return func(yield func(Document, error) bool) {
		skipped := 0
		emitted := 0
		for _, member := range c.members {
			for d, err := range member.Query(ctx, Query{Criteria: q.Criteria}) {
				if err != nil {
					yield(nil, err)
					return
				}
				if !criteria.Match(d) {
					continue
				}
				if skipped < q.Skip {
					skipped++
					continue
				}
				if q.Limit > 0 && emitted >= q.Limit {
					return
				}
				emitted++
				if !yield(project(d, proj), nil) {
					return
				}
			}
		}
	}
}

// QueryOne implements Store.
func (c *ConcatStore) QueryOne(ctx context.Context, q Query) (Document, bool, error) {
	q.Limit = 1
	for d, err := range c.Query(ctx, q) {
		return d, true, err
	}
	return nil, false, nil
}

// Count implements Store.
func (c *ConcatStore) Count(ctx context.Context, criteria Criteria) (int, error) {
	total := 0
	for _, s := range c.members {
		n, err := s.Count(ctx, criteria)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Distinct implements Store.
func (c *ConcatStore) Distinct(ctx context.Context, field string, criteria Criteria) ([]any, error) {
	seen := map[any]struct{}{}
	var out []any
	for _, s := range c.members {
		vals, err := s.Distinct(ctx, field, criteria)
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out, nil
}

// GroupBy implements Store: groups are formed across the union of members.
func (c *ConcatStore) GroupBy(ctx context.Context, fields []string, criteria Criteria) (iter.Seq2[GroupKey, iter.Seq[Document]], error) {
	var all []Document
	for _, s := range c.members {
		for d, err := range s.Query(ctx, Query{Criteria: criteria}) {
			if err != nil {
				return nil, err
			}
			all = append(all, d)
		}
	}
	groups := groupDocuments(all, fields, All{})
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

// Update implements Store. A ConcatStore is read-only.
func (c *ConcatStore) Update(context.Context, []Document, []string) error {
	return fmt.Errorf("concatstore: %s is read-only", c.name)
}

// RemoveDocs implements Store. A ConcatStore is read-only.
func (c *ConcatStore) RemoveDocs(context.Context, Criteria) (int, error) {
	return 0, fmt.Errorf("concatstore: %s is read-only", c.name)
}

// EnsureIndex implements Store by delegating to every member.
func (c *ConcatStore) EnsureIndex(ctx context.Context, field string, unique bool) error {
	for _, s := range c.members {
		if err := s.EnsureIndex(ctx, field, unique); err != nil {
			return err
		}
	}
	return nil
}

// LastUpdated implements Store: the most recent LastUpdated across members.
func (c *ConcatStore) LastUpdated(ctx context.Context) (time.Time, error) {
	var max time.Time
	for _, s := range c.members {
		t, err := s.LastUpdated(ctx)
		if err != nil {
			return time.Time{}, err
		}
		if t.After(max) {
			max = t
		}
	}
	return max, nil
}

// NewerIn implements Store.
func (c *ConcatStore) NewerIn(ctx context.Context, other Store, criteria Criteria, exhaustive bool) ([]any, error) {
	return newerIn(ctx, c, other, criteria, exhaustive)
}

// AliasStore wraps a Store and renames its key and last-updated fields to
// the names a Builder expects, without copying data. Useful when a
// source Store's native field names don't match the Builder's configured
// key/last-updated names.
type AliasStore struct {
	inner            Store
	key              string
	lastUpdatedField string
}

// NewAliasStore wraps inner, presenting key and lastUpdatedField as the
// Store's Key/LastUpdatedField regardless of inner's own field names.
func NewAliasStore(inner Store, key, lastUpdatedField string) *AliasStore {
	return &AliasStore{inner: inner, key: key, lastUpdatedField: lastUpdatedField}
}

// Connect implements Store.
func (a *AliasStore) Connect(ctx context.Context) error { return a.inner.Connect(ctx) }

// Close implements Store.
func (a *AliasStore) Close(ctx context.Context) error { return a.inner.Close(ctx) }

// Key implements Store.
func (a *AliasStore) Key() string { return a.key }

// LastUpdatedField implements Store.
func (a *AliasStore) LastUpdatedField() string { return a.lastUpdatedField }

// Name implements Store.
func (a *AliasStore) Name() string { return a.inner.Name() }

// toInnerField maps an alias-facing field name to inner's native name for
// passing a caller-supplied field/criteria name down to inner.
func (a *AliasStore) toInnerField(field string) string {
	switch field {
	case a.key:
		return a.inner.Key()
	case a.lastUpdatedField:
		return a.inner.LastUpdatedField()
	default:
		return field
	}
}

// toAliasField maps one of inner's native field names to the alias name
// a caller of AliasStore expects to see.
func (a *AliasStore) toAliasField(field string) string {
	switch field {
	case a.inner.Key():
		return a.key
	case a.inner.LastUpdatedField():
		return a.lastUpdatedField
	default:
		return field
	}
}

// rename copies doc with inner's key and last-updated fields renamed to
// the alias names, so a caller reading doc[a.Key()] or
// doc[a.LastUpdatedField()] finds it.
func (a *AliasStore) rename(doc Document) Document {
	if a.inner.Key() == a.key && a.inner.LastUpdatedField() == a.lastUpdatedField {
		return doc
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[a.toAliasField(k)] = v
	}
	return out
}

// Query implements Store.
func (a *AliasStore) Query(ctx context.Context, q Query) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		for doc, err := range a.inner.Query(ctx, q) {
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(a.rename(doc), nil) {
				return
			}
		}
	}
}

// QueryOne implements Store.
func (a *AliasStore) QueryOne(ctx context.Context, q Query) (Document, bool, error) {
	doc, ok, err := a.inner.QueryOne(ctx, q)
	if !ok || err != nil {
		return doc, ok, err
	}
	return a.rename(doc), true, nil
}

// Count implements Store.
func (a *AliasStore) Count(ctx context.Context, criteria Criteria) (int, error) {
	return a.inner.Count(ctx, criteria)
}

// Distinct implements Store.
func (a *AliasStore) Distinct(ctx context.Context, field string, criteria Criteria) ([]any, error) {
	return a.inner.Distinct(ctx, a.toInnerField(field), criteria)
}

// GroupBy implements Store.
func (a *AliasStore) GroupBy(ctx context.Context, fields []string, criteria Criteria) (iter.Seq2[GroupKey, iter.Seq[Document]], error) {
	innerFields := make([]string, len(fields))
	for i, f := range fields {
		innerFields[i] = a.toInnerField(f)
	}
	groups, err := a.inner.GroupBy(ctx, innerFields, criteria)
	if err != nil {
		return nil, err
	}
	return func(yield func(GroupKey, iter.Seq[Document]) bool) {
		for key, docs := range groups {
			aliasKey := make(GroupKey, len(key))
			for k, v := range key {
				aliasKey[a.toAliasField(k)] = v
			}
			renamedDocs := func(yield2 func(Document) bool) {
				for doc := range docs {
					if !yield2(a.rename(doc)) {
						return
					}
				}
			}
			if !yield(aliasKey, renamedDocs) {
				return
			}
		}
	}, nil
}

// Update implements Store.
func (a *AliasStore) Update(ctx context.Context, docs []Document, keyFields []string) error {
	return a.inner.Update(ctx, docs, keyFields)
}

// RemoveDocs implements Store.
func (a *AliasStore) RemoveDocs(ctx context.Context, criteria Criteria) (int, error) {
	return a.inner.RemoveDocs(ctx, criteria)
}

// EnsureIndex implements Store.
func (a *AliasStore) EnsureIndex(ctx context.Context, field string, unique bool) error {
	return a.inner.EnsureIndex(ctx, field, unique)
}

// LastUpdated implements Store.
func (a *AliasStore) LastUpdated(ctx context.Context) (time.Time, error) {
	return a.inner.LastUpdated(ctx)
}

// NewerIn implements Store.
func (a *AliasStore) NewerIn(ctx context.Context, other Store, criteria Criteria, exhaustive bool) ([]any, error) {
	return newerIn(ctx, a, other, criteria, exhaustive)
}
