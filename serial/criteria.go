package serial

import (
	"fmt"

	"github.com/materialsproject/maggma/store"
)

// HydrateCriteria builds a store.Criteria from a Description, dispatching
// on its "type" field over the fixed algebra in store/criteria.go
// (All, Eq, In, And, Or, Not). store.Func wraps an arbitrary Go closure
// and has no serialized form, so a description naming it is a ConfigError
// rather than silently degrading to All.
func HydrateCriteria(desc Description) (store.Criteria, error) {
	tag, err := desc.Tag()
	if err != nil {
		return nil, err
	}
	switch tag {
	case "all":
		return store.All{}, nil
	case "eq":
		fields, err := desc.nested("fields")
		if err != nil {
			return nil, err
		}
		return store.Eq(fields), nil
	case "in":
		field, err := desc.requiredStr("field")
		if err != nil {
			return nil, err
		}
		values, ok := desc["values"].([]any)
		if !ok {
			return nil, &ConfigError{Path: "values", Err: fmt.Errorf("must be a sequence")}
		}
		return store.In{Field: field, Values: values}, nil
	case "and", "or":
		subDescs, err := desc.nestedSlice("criteria")
		if err != nil {
			return nil, err
		}
		subs := make([]store.Criteria, len(subDescs))
		for i, sd := range subDescs {
			sub, err := HydrateCriteria(sd)
			if err != nil {
				return nil, &ConfigError{Path: fmt.Sprintf("criteria[%d]", i), Err: err}
			}
			subs[i] = sub
		}
		if tag == "and" {
			return store.And(subs), nil
		}
		return store.Or(subs), nil
	case "not":
		subDesc, err := desc.nested("criteria")
		if err != nil {
			return nil, err
		}
		sub, err := HydrateCriteria(subDesc)
		if err != nil {
			return nil, &ConfigError{Path: "criteria", Err: err}
		}
		return store.Not{Criteria: sub}, nil
	default:
		return nil, &ConfigError{Path: "type", Err: fmt.Errorf("unknown criteria type %q", tag)}
	}
}
