package store

import (
	"context"
	"time"
)

// newerIn implements the NewerIn capability generically in terms of Query
// and LastUpdated, so every adapter gets identical semantics for free
// rather than re-deriving the shortcut/exhaustive distinction per backend.
//
// Per the decision recorded in DESIGN.md, a document with no last-updated
// value is always treated as older than any timestamped document, so its
// source counterpart is always eligible for selection.
func newerIn(ctx context.Context, self, other Store, criteria Criteria, exhaustive bool) ([]any, error) {
	if !exhaustive {
		otherLast, err := other.LastUpdated(ctx)
		if err != nil {
			return nil, err
		}
		var keys []any
		for d, err := range self.Query(ctx, Query{Criteria: criteria}) {
			if err != nil {
				return nil, err
			}
			t, ok := docTime(d, self.LastUpdatedField())
			if !ok {
				// no timestamp on the self side: conservatively include,
				// mirroring "absent from target" treatment upstream.
				keys = append(keys, d[self.Key()])
				continue
			}
			if t.After(otherLast) {
				keys = append(keys, d[self.Key()])
			}
		}
		return keys, nil
	}

	type tsEntry struct {
		t  time.Time
		ok bool
	}
	otherByKey := map[any]tsEntry{}
	for d, err := range other.Query(ctx, Query{}) {
		if err != nil {
			return nil, err
		}
		k := d[other.Key()]
		t, ok := docTime(d, other.LastUpdatedField())
		otherByKey[k] = tsEntry{t: t, ok: ok}
	}

	var keys []any
	for d, err := range self.Query(ctx, Query{Criteria: criteria}) {
		if err != nil {
			return nil, err
		}
		k := d[self.Key()]
		selfT, selfHas := docTime(d, self.LastUpdatedField())

		entry, present := otherByKey[k]
		switch {
		case !present:
			// absent from target
			keys = append(keys, k)
		case !entry.ok:
			// target doc has no timestamp: treated as older than any
			// timestamped self doc.
			if selfHas {
				keys = append(keys, k)
			}
		case !selfHas:
			// self has no timestamp: never newer.
		case selfT.After(entry.t):
			keys = append(keys, k)
		}
	}
	return keys, nil
}
