package serial

import (
	"fmt"

	"github.com/materialsproject/maggma/builder"
	"github.com/materialsproject/maggma/store"
	"github.com/materialsproject/maggma/validator"
)

// registerBuiltinBuilders wires the MapBuilder/GroupBuilder templates'
// constructors into r under their registered tags.
func registerBuiltinBuilders(r *Registry) {
	r.RegisterBuilder("map_builder", hydrateMapBuilder)
	r.RegisterBuilder("group_builder", hydrateGroupBuilder)
}

func hydrateAuxiliary(r *Registry, desc Description) ([]store.Store, error) {
	auxDescs, err := desc.nestedSlice("auxiliary")
	if err != nil {
		return nil, err
	}
	aux := make([]store.Store, len(auxDescs))
	for i, ad := range auxDescs {
		s, err := r.HydrateStore(ad)
		if err != nil {
			return nil, &ConfigError{Path: fmt.Sprintf("auxiliary[%d]", i), Err: err}
		}
		aux[i] = s
	}
	return aux, nil
}

func hydrateValidator(desc Description) (validator.Validator, error) {
	v, ok := desc["validator"]
	if !ok {
		return nil, nil
	}
	vd, err := asDescription(v, "validator")
	if err != nil {
		return nil, err
	}
	tag, err := vd.Tag()
	if err != nil {
		return nil, err
	}
	switch tag {
	case "required_fields":
		fields, err := vd.strSlice("fields")
		if err != nil {
			return nil, err
		}
		return validator.RequiredFields(fields...), nil
	default:
		return nil, &ConfigError{Path: "validator.type", Err: fmt.Errorf("unknown validator type %q", tag)}
	}
}

func hydrateMapBuilder(r *Registry, desc Description) (builder.Builder, error) {
	name, err := desc.requiredStr("name")
	if err != nil {
		return nil, err
	}
	sourceDesc, err := desc.nested("source")
	if err != nil {
		return nil, err
	}
	source, err := r.HydrateStore(sourceDesc)
	if err != nil {
		return nil, &ConfigError{Path: "source", Err: err}
	}
	targetDesc, err := desc.nested("target")
	if err != nil {
		return nil, err
	}
	target, err := r.HydrateStore(targetDesc)
	if err != nil {
		return nil, &ConfigError{Path: "target", Err: err}
	}

	fnVal, ok := desc["fn"]
	if !ok {
		return nil, &ConfigError{Path: "fn", Err: fmt.Errorf("map_builder requires a registered fn")}
	}
	resolved, err := r.HydrateFn(fnVal)
	if err != nil {
		return nil, &ConfigError{Path: "fn", Err: err}
	}
	fn, ok := resolved.(builder.UnaryFunction)
	if !ok {
		return nil, &ConfigError{Path: "fn", Err: fmt.Errorf("fn %v did not resolve to a builder.UnaryFunction", fnVal)}
	}

	mb := builder.NewMapBuilder(name, source, target, fn)

	if proj, err := desc.strSlice("projection"); err != nil {
		return nil, err
	} else {
		mb.Projection = proj
	}
	if mb.DeleteOrphans, err = desc.boolVal("delete_orphans", false); err != nil {
		return nil, err
	}
	if mb.ItemTimeout, err = desc.durationVal("item_timeout", 0); err != nil {
		return nil, err
	}
	if mb.StoreProcessTime, err = desc.boolVal("store_process_time", false); err != nil {
		return nil, err
	}
	if mb.RetryFailed, err = desc.boolVal("retry_failed", false); err != nil {
		return nil, err
	}
	if mb.ChunkSize, err = desc.intVal("chunk_size", 1000); err != nil {
		return nil, err
	}
	if mb.BuildVersion, err = desc.str("build_version", ""); err != nil {
		return nil, err
	}
	if v, ok := desc["query"]; ok {
		qd, err := asDescription(v, "query")
		if err != nil {
			return nil, err
		}
		crit, err := HydrateCriteria(qd)
		if err != nil {
			return nil, &ConfigError{Path: "query", Err: err}
		}
		mb.Fn = crit
	}
	v, err := hydrateValidator(desc)
	if err != nil {
		return nil, err
	}
	mb.Validator = v

	aux, err := hydrateAuxiliary(r, desc)
	if err != nil {
		return nil, err
	}
	mb.Auxiliary = aux
	return mb, nil
}

func hydrateGroupBuilder(r *Registry, desc Description) (builder.Builder, error) {
	name, err := desc.requiredStr("name")
	if err != nil {
		return nil, err
	}
	sourceDesc, err := desc.nested("source")
	if err != nil {
		return nil, err
	}
	source, err := r.HydrateStore(sourceDesc)
	if err != nil {
		return nil, &ConfigError{Path: "source", Err: err}
	}
	targetDesc, err := desc.nested("target")
	if err != nil {
		return nil, err
	}
	target, err := r.HydrateStore(targetDesc)
	if err != nil {
		return nil, &ConfigError{Path: "target", Err: err}
	}
	groupingProperties, err := desc.strSlice("grouping_properties")
	if err != nil {
		return nil, err
	}
	if len(groupingProperties) == 0 {
		return nil, &ConfigError{Path: "grouping_properties", Err: fmt.Errorf("group_builder requires at least one grouping property")}
	}

	fnVal, ok := desc["fn"]
	if !ok {
		return nil, &ConfigError{Path: "fn", Err: fmt.Errorf("group_builder requires a registered fn")}
	}
	resolved, err := r.HydrateFn(fnVal)
	if err != nil {
		return nil, &ConfigError{Path: "fn", Err: err}
	}
	fn, ok := resolved.(builder.GroupFunction)
	if !ok {
		return nil, &ConfigError{Path: "fn", Err: fmt.Errorf("fn %v did not resolve to a builder.GroupFunction", fnVal)}
	}

	gb := builder.NewGroupBuilder(name, source, target, groupingProperties, fn)

	if proj, err := desc.strSlice("projection"); err != nil {
		return nil, err
	} else {
		gb.Projection = proj
	}
	if gb.ItemTimeout, err = desc.durationVal("item_timeout", 0); err != nil {
		return nil, err
	}
	if gb.StoreProcessTime, err = desc.boolVal("store_process_time", false); err != nil {
		return nil, err
	}
	if gb.RetryFailed, err = desc.boolVal("retry_failed", false); err != nil {
		return nil, err
	}
	if gb.BuildVersion, err = desc.str("build_version", ""); err != nil {
		return nil, err
	}
	if v, ok := desc["query"]; ok {
		qd, err := asDescription(v, "query")
		if err != nil {
			return nil, err
		}
		crit, err := HydrateCriteria(qd)
		if err != nil {
			return nil, &ConfigError{Path: "query", Err: err}
		}
		gb.Fn = crit
	}
	val, err := hydrateValidator(desc)
	if err != nil {
		return nil, err
	}
	gb.Validator = val

	aux, err := hydrateAuxiliary(r, desc)
	if err != nil {
		return nil, err
	}
	gb.Auxiliary = aux
	return gb, nil
}
