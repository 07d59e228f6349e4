package store

// Criteria is a predicate over a Document. It is the query language every
// Store capability (Query, Count, Distinct, GroupBy, RemoveDocs, NewerIn)
// is filtered through.
//
// Criteria is deliberately a small typed algebra rather than a
// free-form query-document, since maggma-go has no MongoDB-style driver
// in its dependency surface (see DESIGN.md). Every adapter, sqlite and S3
// included, evaluates it in process over decoded documents.
type Criteria interface {
	Match(doc Document) bool
}

// All matches every document.
type All struct{}

// Match implements Criteria.
func (All) Match(Document) bool { return true }

// Eq matches documents where every named field equals the given value.
type Eq map[string]any

// Match implements Criteria.
func (e Eq) Match(doc Document) bool {
	for field, want := range e {
		got, ok := doc[field]
		if !ok || !equalScalar(got, want) {
			return false
		}
	}
	return true
}

// In matches documents whose field value is one of values.
type In struct {
	Field  string
	Values []any
}

// Match implements Criteria.
func (i In) Match(doc Document) bool {
	got, ok := doc[i.Field]
	if !ok {
		return false
	}
	for _, v := range i.Values {
		if equalScalar(got, v) {
			return true
		}
	}
	return false
}

// And matches documents satisfying every sub-criteria.
type And []Criteria

// Match implements Criteria.
func (a And) Match(doc Document) bool {
	for _, c := range a {
		if !c.Match(doc) {
			return false
		}
	}
	return true
}

// Or matches documents satisfying at least one sub-criteria.
type Or []Criteria

// Match implements Criteria.
func (o Or) Match(doc Document) bool {
	for _, c := range o {
		if c.Match(doc) {
			return true
		}
	}
	return false
}

// Not negates a sub-criteria.
type Not struct{ Criteria Criteria }

// Match implements Criteria.
func (n Not) Match(doc Document) bool { return !n.Criteria.Match(doc) }

// Func adapts an arbitrary predicate function to Criteria.
type Func func(Document) bool

// Match implements Criteria.
func (f Func) Match(doc Document) bool { return f(doc) }

// normalize returns All{} for a nil Criteria so adapters never need a nil
// check before calling Match.
func normalize(c Criteria) Criteria {
	if c == nil {
		return All{}
	}
	return c
}

func equalScalar(a, b any) bool {
	// Numbers frequently round-trip through JSON/YAML decoding as
	// different concrete types (float64, int, int64); compare them by
	// value rather than requiring identical Go types.
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
