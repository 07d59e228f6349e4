package builder

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/materialsproject/maggma"
	"github.com/materialsproject/maggma/store"
	"github.com/materialsproject/maggma/validator"
)

// UnaryFunction transforms one source document into an output document.
type UnaryFunction func(ctx context.Context, item store.Document) (store.Document, error)

// MapBuilder is a 1:1 execution template: it selects source documents
// incrementally, applies a user function to each, and writes an
// idempotent, upsert-friendly output shape to the target.
type MapBuilder struct {
	name string
	log  *maggma.Logger

	Source    store.Store
	Target    store.Store
	Auxiliary []store.Store

	Fn store.Criteria // additional source criteria applied to every selection

	Projection       []string
	DeleteOrphans    bool
	ItemTimeout      time.Duration
	StoreProcessTime bool
	RetryFailed      bool
	ChunkSize        int
	BuildVersion     string
	Validator        validator.Validator

	UnaryFn UnaryFunction

	chunkSkip  int
	chunkLimit int
}

// NewMapBuilder creates a MapBuilder named name, applying fn to every
// selected source document and writing the result to target.
func NewMapBuilder(name string, source, target store.Store, fn UnaryFunction) *MapBuilder {
	return &MapBuilder{
		name:      name,
		log:       maggma.NoopLogger().WithBuilder(name),
		Source:    source,
		Target:    target,
		ChunkSize: 1000,
		UnaryFn:   fn,
	}
}

// SetLogger overrides the Builder's logger.
func (m *MapBuilder) SetLogger(l *maggma.Logger) { m.log = l.WithBuilder(m.name) }

// Name implements Builder.
func (m *MapBuilder) Name() string { return m.name }

// Logger implements Builder.
func (m *MapBuilder) Logger() *maggma.Logger { return m.log }

// Timeout implements Timeouter.
func (m *MapBuilder) Timeout() time.Duration { return m.ItemTimeout }

// Connect implements Builder: opens source, target, and every auxiliary
// Store.
func (m *MapBuilder) Connect(ctx context.Context) error {
	if err := m.Source.Connect(ctx); err != nil {
		return &SourceError{Err: fmt.Errorf("connect source %s: %w", m.Source.Name(), err)}
	}
	if err := m.Target.Connect(ctx); err != nil {
		return &SourceError{Err: fmt.Errorf("connect target %s: %w", m.Target.Name(), err)}
	}
	for _, aux := range m.Auxiliary {
		if err := aux.Connect(ctx); err != nil {
			return &SourceError{Err: fmt.Errorf("connect auxiliary %s: %w", aux.Name(), err)}
		}
	}
	return nil
}

// Close implements Builder. All Stores are closed even if some fail;
// the first error is returned.
func (m *MapBuilder) Close(ctx context.Context) error {
	var first error
	note := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	note(m.Source.Close(ctx))
	note(m.Target.Close(ctx))
	for _, aux := range m.Auxiliary {
		note(aux.Close(ctx))
	}
	return first
}

// Stores implements Dependencies.
func (m *MapBuilder) Stores() (sources, targets []string) {
	sources = append(sources, m.Source.Name())
	for _, aux := range m.Auxiliary {
		sources = append(sources, aux.Name())
	}
	return sources, []string{m.Target.Name()}
}

func (m *MapBuilder) query() store.Criteria {
	if m.Fn == nil {
		return store.All{}
	}
	return m.Fn
}

// selectedKeys computes the incremental selection: keys newer in source
// than target, absent from target, or present in
// target with a prior failure mark when RetryFailed is set.
func (m *MapBuilder) selectedKeys(ctx context.Context) ([]any, error) {
	newer, err := m.Source.NewerIn(ctx, m.Target, m.query(), true)
	if err != nil {
		return nil, &SourceError{Err: fmt.Errorf("newer_in: %w", err)}
	}
	seen := make(map[any]struct{}, len(newer))
	keys := make([]any, 0, len(newer))
	for _, k := range newer {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	if m.RetryFailed {
		for d, err := range m.Target.Query(ctx, store.Query{Criteria: store.Eq{"state": "failed"}}) {
			if err != nil {
				return nil, &SourceError{Err: fmt.Errorf("query failed items: %w", err)}
			}
			k := d[m.Target.Key()]
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	return keys, nil
}

// GetItems implements Builder.
func (m *MapBuilder) GetItems(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		keys, err := m.selectedKeys(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		if len(keys) == 0 {
			return
		}
		q := store.Query{
			Criteria:   store.And{m.query(), store.In{Field: m.Source.Key(), Values: keys}},
			Projection: m.Projection,
			Skip:       m.chunkSkip,
		}
		if m.chunkLimit > 0 {
			q.Limit = m.chunkLimit
		}
		for d, err := range m.Source.Query(ctx, q) {
			if err != nil {
				yield(nil, &SourceError{Err: err})
				return
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}

// ProcessItem implements Builder.
func (m *MapBuilder) ProcessItem(ctx context.Context, item any) (any, error) {
	doc, ok := item.(store.Document)
	if !ok {
		return nil, &ItemError{Err: fmt.Errorf("unexpected item type %T", item)}
	}
	key := doc[m.Source.Key()]

	started := time.Now()
	result, err := m.UnaryFn(ctx, doc)
	elapsed := time.Since(started)
	if err != nil {
		return nil, &ItemError{Key: key, Err: err}
	}

	out := result.Clone()
	out[m.Target.Key()] = key
	out[m.Target.LastUpdatedField()] = time.Now().UTC().Format(time.RFC3339Nano)
	if m.BuildVersion != "" {
		out["_bt"] = m.BuildVersion
	}
	if m.StoreProcessTime {
		out["_process_time_s"] = elapsed.Seconds()
	}

	if m.Validator != nil {
		if verr := m.Validator.Validate(out); verr != nil {
			return nil, &ItemError{Key: key, Err: verr}
		}
	}
	return out, nil
}

// RecordError implements ErrorRecorder with an idempotent failed-item shape.
func (m *MapBuilder) RecordError(item any, err error) any {
	doc := store.Document{}
	if d, ok := item.(store.Document); ok {
		doc[m.Target.Key()] = d[m.Source.Key()]
	}
	doc[m.Target.LastUpdatedField()] = time.Now().UTC().Format(time.RFC3339Nano)
	if m.BuildVersion != "" {
		doc["_bt"] = m.BuildVersion
	}
	doc["error"] = err.Error()
	doc["state"] = "failed"
	return doc
}

// UpdateTargets implements Builder.
func (m *MapBuilder) UpdateTargets(ctx context.Context, batch []any) error {
	docs := make([]store.Document, 0, len(batch))
	for _, item := range batch {
		d, ok := item.(store.Document)
		if !ok {
			return fmt.Errorf("map_builder: unexpected batch item type %T", item)
		}
		docs = append(docs, d)
	}
	if len(docs) == 0 {
		return nil
	}
	return m.Target.Update(ctx, docs, []string{m.Target.Key()})
}

// Finalize implements Finalizable: orphan deletion, when configured.
func (m *MapBuilder) Finalize(ctx context.Context) error {
	if !m.DeleteOrphans {
		return nil
	}
	sourceKeys := NewKeySet()
	for d, err := range m.Source.Query(ctx, store.Query{Criteria: m.query(), Projection: []string{m.Source.Key()}}) {
		if err != nil {
			return fmt.Errorf("map_builder: orphan scan source: %w", err)
		}
		sourceKeys.Add(d[m.Source.Key()])
	}
	orphan := store.Func(func(d store.Document) bool {
		return !sourceKeys.Contains(d[m.Target.Key()])
	})
	_, err := m.Target.RemoveDocs(ctx, orphan)
	return err
}

// Prechunk implements Prechunkable: n roughly-equal skip/limit ranges over
// the count of source documents matching the Builder's query. The count
// is not narrowed to the incremental selection, so when fewer documents
// are selected some trailing ranges are empty.
func (m *MapBuilder) Prechunk(ctx context.Context, n int) (iter.Seq[Chunk], error) {
	if n <= 0 {
		n = 1
	}
	total, err := m.Source.Count(ctx, m.query())
	if err != nil {
		return nil, &SourceError{Err: err}
	}
	per := (total + n - 1) / n
	if per == 0 {
		per = 1
	}
	return func(yield func(Chunk) bool) {
		if total == 0 {
			yield(Chunk{"skip": 0, "limit": per})
			return
		}
		for skip := 0; skip < total; skip += per {
			if !yield(Chunk{"skip": skip, "limit": per}) {
				return
			}
		}
	}, nil
}

// ApplyChunk implements ApplyChunk.
func (m *MapBuilder) ApplyChunk(c Chunk) error {
	if skip, ok := c["skip"].(int); ok {
		m.chunkSkip = skip
	}
	if limit, ok := c["limit"].(int); ok {
		m.chunkLimit = limit
	}
	return nil
}

// Total implements Totaler.
func (m *MapBuilder) Total(ctx context.Context) (int, bool) {
	keys, err := m.selectedKeys(ctx)
	if err != nil {
		return 0, false
	}
	return len(keys), true
}
