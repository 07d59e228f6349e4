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

// GroupFunction transforms one group of source documents sharing the same
// grouping key into an output document.
type GroupFunction func(ctx context.Context, key store.GroupKey, items []store.Document) (store.Document, error)

// GroupBuilder is an N:1 execution template: it groups source documents
// by grouping_properties and applies a user
// function once per group. Unlike MapBuilder, GroupBuilder never deletes
// orphans, since a target document's owning group can legitimately shrink
// without the group itself disappearing.
type GroupBuilder struct {
	name string
	log  *maggma.Logger

	Source    store.Store
	Target    store.Store
	Auxiliary []store.Store

	GroupingProperties []string
	Fn                 store.Criteria

	Projection       []string
	ItemTimeout      time.Duration
	StoreProcessTime bool
	RetryFailed      bool
	BuildVersion     string
	Validator        validator.Validator

	GroupFn GroupFunction

	chunkSkip  int
	chunkLimit int
	chunkKeys  []store.GroupKey
}

// NewGroupBuilder creates a GroupBuilder named name, grouping source
// documents by groupingProperties and applying fn once per group.
func NewGroupBuilder(name string, source, target store.Store, groupingProperties []string, fn GroupFunction) *GroupBuilder {
	return &GroupBuilder{
		name:               name,
		log:                maggma.NoopLogger().WithBuilder(name),
		Source:             source,
		Target:             target,
		GroupingProperties: groupingProperties,
		GroupFn:            fn,
	}
}

// SetLogger overrides the Builder's logger.
func (g *GroupBuilder) SetLogger(l *maggma.Logger) { g.log = l.WithBuilder(g.name) }

// Name implements Builder.
func (g *GroupBuilder) Name() string { return g.name }

// Logger implements Builder.
func (g *GroupBuilder) Logger() *maggma.Logger { return g.log }

// Timeout implements Timeouter.
func (g *GroupBuilder) Timeout() time.Duration { return g.ItemTimeout }

// Connect implements Builder.
func (g *GroupBuilder) Connect(ctx context.Context) error {
	if err := g.Source.Connect(ctx); err != nil {
		return &SourceError{Err: fmt.Errorf("connect source %s: %w", g.Source.Name(), err)}
	}
	if err := g.Target.Connect(ctx); err != nil {
		return &SourceError{Err: fmt.Errorf("connect target %s: %w", g.Target.Name(), err)}
	}
	for _, aux := range g.Auxiliary {
		if err := aux.Connect(ctx); err != nil {
			return &SourceError{Err: fmt.Errorf("connect auxiliary %s: %w", aux.Name(), err)}
		}
	}
	return nil
}

// Close implements Builder.
func (g *GroupBuilder) Close(ctx context.Context) error {
	var first error
	note := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	note(g.Source.Close(ctx))
	note(g.Target.Close(ctx))
	for _, aux := range g.Auxiliary {
		note(aux.Close(ctx))
	}
	return first
}

// Stores implements Dependencies.
func (g *GroupBuilder) Stores() (sources, targets []string) {
	sources = append(sources, g.Source.Name())
	for _, aux := range g.Auxiliary {
		sources = append(sources, aux.Name())
	}
	return sources, []string{g.Target.Name()}
}

func (g *GroupBuilder) query() store.Criteria {
	if g.Fn == nil {
		return store.All{}
	}
	return g.Fn
}

// groupKeyToTarget maps a GroupKey onto the composite key the target
// stores it under: a stable, joined string of "field=value" pairs in
// GroupingProperties order.
func groupKeyToTarget(key store.GroupKey, fields []string) string {
	s := ""
	for i, f := range fields {
		if i > 0 {
			s += "|"
		}
		s += fmt.Sprintf("%s=%v", f, key[f])
	}
	return s
}

// selectedGroups computes the incremental selection: groups with no target
// record, groups containing at least one source document newer than the
// target's group record, plus groups previously marked failed when
// RetryFailed is set.
func (g *GroupBuilder) selectedGroups(ctx context.Context) ([]store.GroupKey, error) {
	groups, err := g.Source.GroupBy(ctx, g.GroupingProperties, g.query())
	if err != nil {
		return nil, &SourceError{Err: fmt.Errorf("group_by: %w", err)}
	}

	seen := map[string]struct{}{}
	var keys []store.GroupKey
	for gk, members := range groups {
		tdoc, found, err := g.Target.QueryOne(ctx, store.Query{Criteria: store.Eq(gk)})
		if err != nil {
			return nil, &SourceError{Err: fmt.Errorf("query target group: %w", err)}
		}
		tT, tErr := time.Parse(time.RFC3339Nano, fmt.Sprint(tdoc[g.Target.LastUpdatedField()]))
		dirty := !found
		for m := range members {
			mT, mErr := time.Parse(time.RFC3339Nano, fmt.Sprint(m[g.Source.LastUpdatedField()]))
			if mErr == nil && (tErr != nil || mT.After(tT)) {
				dirty = true
				break
			}
		}
		if dirty {
			tk := groupKeyToTarget(gk, g.GroupingProperties)
			if _, ok := seen[tk]; !ok {
				seen[tk] = struct{}{}
				keys = append(keys, gk)
			}
		}
	}

	if g.RetryFailed {
		for d, err := range g.Target.Query(ctx, store.Query{Criteria: store.Eq{"state": "failed"}}) {
			if err != nil {
				return nil, &SourceError{Err: fmt.Errorf("query failed items: %w", err)}
			}
			gk := store.GroupKey{}
			for _, f := range g.GroupingProperties {
				gk[f] = d[f]
			}
			tk := groupKeyToTarget(gk, g.GroupingProperties)
			if _, ok := seen[tk]; !ok {
				seen[tk] = struct{}{}
				keys = append(keys, gk)
			}
		}
	}
	return keys, nil
}

// groupItem pairs a GroupKey with its member documents, the work unit
// GetItems yields and ProcessItem consumes.
type groupItem struct {
	key   store.GroupKey
	items []store.Document
}

// GetItems implements Builder.
func (g *GroupBuilder) GetItems(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		keys, err := g.selectedGroups(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		if g.chunkKeys != nil {
			keys = g.chunkKeys
		} else if g.chunkLimit > 0 {
			end := g.chunkSkip + g.chunkLimit
			if end > len(keys) {
				end = len(keys)
			}
			if g.chunkSkip < len(keys) {
				keys = keys[g.chunkSkip:end]
			} else {
				keys = nil
			}
		}
		for _, gk := range keys {
			criteria := store.And{g.query()}
			for f, v := range gk {
				criteria = append(criteria, store.Eq{f: v})
			}
			var items []store.Document
			for d, err := range g.Source.Query(ctx, store.Query{Criteria: criteria, Projection: g.Projection}) {
				if err != nil {
					yield(nil, &SourceError{Err: err})
					return
				}
				items = append(items, d)
			}
			if !yield(groupItem{key: gk, items: items}, nil) {
				return
			}
		}
	}
}

// ProcessItem implements Builder.
func (g *GroupBuilder) ProcessItem(ctx context.Context, item any) (any, error) {
	gi, ok := item.(groupItem)
	if !ok {
		return nil, &ItemError{Err: fmt.Errorf("unexpected item type %T", item)}
	}
	started := time.Now()
	result, err := g.GroupFn(ctx, gi.key, gi.items)
	elapsed := time.Since(started)
	if err != nil {
		return nil, &ItemError{Key: gi.key, Err: err}
	}

	out := result.Clone()
	for f, v := range gi.key {
		out[f] = v
	}
	out[g.Target.LastUpdatedField()] = time.Now().UTC().Format(time.RFC3339Nano)
	if g.BuildVersion != "" {
		out["_bt"] = g.BuildVersion
	}
	if g.StoreProcessTime {
		out["_process_time_s"] = elapsed.Seconds()
	}

	if g.Validator != nil {
		if verr := g.Validator.Validate(out); verr != nil {
			return nil, &ItemError{Key: gi.key, Err: verr}
		}
	}
	return out, nil
}

// RecordError implements ErrorRecorder.
func (g *GroupBuilder) RecordError(item any, err error) any {
	doc := store.Document{}
	if gi, ok := item.(groupItem); ok {
		for f, v := range gi.key {
			doc[f] = v
		}
	}
	doc[g.Target.LastUpdatedField()] = time.Now().UTC().Format(time.RFC3339Nano)
	if g.BuildVersion != "" {
		doc["_bt"] = g.BuildVersion
	}
	doc["error"] = err.Error()
	doc["state"] = "failed"
	return doc
}

// UpdateTargets implements Builder.
func (g *GroupBuilder) UpdateTargets(ctx context.Context, batch []any) error {
	docs := make([]store.Document, 0, len(batch))
	for _, item := range batch {
		d, ok := item.(store.Document)
		if !ok {
			return fmt.Errorf("group_builder: unexpected batch item type %T", item)
		}
		docs = append(docs, d)
	}
	if len(docs) == 0 {
		return nil
	}
	return g.Target.Update(ctx, docs, g.GroupingProperties)
}

// Prechunk implements Prechunkable: n roughly-equal ranges over the
// selected groups, distributed by explicit group-key list rather than
// skip/limit, since a group's member count varies.
func (g *GroupBuilder) Prechunk(ctx context.Context, n int) (iter.Seq[Chunk], error) {
	if n <= 0 {
		n = 1
	}
	keys, err := g.selectedGroups(ctx)
	if err != nil {
		return nil, err
	}
	per := (len(keys) + n - 1) / n
	if per == 0 {
		per = 1
	}
	return func(yield func(Chunk) bool) {
		if len(keys) == 0 {
			yield(Chunk{"group_keys": []store.GroupKey{}})
			return
		}
		for skip := 0; skip < len(keys); skip += per {
			end := skip + per
			if end > len(keys) {
				end = len(keys)
			}
			if !yield(Chunk{"group_keys": keys[skip:end]}) {
				return
			}
		}
	}, nil
}

// ApplyChunk implements ApplyChunk.
func (g *GroupBuilder) ApplyChunk(c Chunk) error {
	if keys, ok := c["group_keys"].([]store.GroupKey); ok {
		g.chunkKeys = keys
	}
	return nil
}

// Total implements Totaler.
func (g *GroupBuilder) Total(ctx context.Context) (int, bool) {
	keys, err := g.selectedGroups(ctx)
	if err != nil {
		return 0, false
	}
	return len(keys), true
}
