package serial

import (
	"fmt"

	"github.com/materialsproject/maggma/store"
)

// registerBuiltinStores wires the reference Store adapters' constructors
// into r under the tags a serialized description names in its "type"
// field.
func registerBuiltinStores(r *Registry) {
	r.RegisterStore("memory_store", hydrateMemoryStore)
	r.RegisterStore("file_store", hydrateFileStore)
	r.RegisterStore("sqlite_store", hydrateSQLiteStore)
	r.RegisterStore("s3_store", hydrateS3Store)
	r.RegisterStore("join_store", hydrateJoinStore)
	r.RegisterStore("concat_store", hydrateConcatStore)
	r.RegisterStore("alias_store", hydrateAliasStore)
}

func keyFields(desc Description) (key, lastUpdated string, err error) {
	key, err = desc.str("key", "_id")
	if err != nil {
		return "", "", err
	}
	lastUpdated, err = desc.str("last_updated_field", "last_updated")
	if err != nil {
		return "", "", err
	}
	return key, lastUpdated, nil
}

func hydrateMemoryStore(_ *Registry, desc Description) (store.Store, error) {
	name, err := desc.requiredStr("name")
	if err != nil {
		return nil, err
	}
	key, lastUpdated, err := keyFields(desc)
	if err != nil {
		return nil, err
	}
	return store.NewMemoryStore(name, key, lastUpdated), nil
}

func hydrateFileStore(_ *Registry, desc Description) (store.Store, error) {
	name, err := desc.requiredStr("name")
	if err != nil {
		return nil, err
	}
	path, err := desc.requiredStr("path")
	if err != nil {
		return nil, err
	}
	key, lastUpdated, err := keyFields(desc)
	if err != nil {
		return nil, err
	}
	return store.NewFileStore(name, path, key, lastUpdated), nil
}

func hydrateSQLiteStore(_ *Registry, desc Description) (store.Store, error) {
	name, err := desc.requiredStr("name")
	if err != nil {
		return nil, err
	}
	path, err := desc.requiredStr("path")
	if err != nil {
		return nil, err
	}
	table, err := desc.str("table", "documents")
	if err != nil {
		return nil, err
	}
	key, lastUpdated, err := keyFields(desc)
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(name, path, table, key, lastUpdated), nil
}

func hydrateS3Store(_ *Registry, desc Description) (store.Store, error) {
	name, err := desc.requiredStr("name")
	if err != nil {
		return nil, err
	}
	bucket, err := desc.requiredStr("bucket")
	if err != nil {
		return nil, err
	}
	prefix, err := desc.str("prefix", "")
	if err != nil {
		return nil, err
	}
	key, lastUpdated, err := keyFields(desc)
	if err != nil {
		return nil, err
	}
	region, err := desc.str("region", "")
	if err != nil {
		return nil, err
	}

	client, err := newS3Client(region, desc)
	if err != nil {
		return nil, &ConfigError{Path: "bucket", Err: err}
	}
	return store.NewS3Store(name, client, bucket, prefix, key, lastUpdated), nil
}

func hydrateJoinStore(r *Registry, desc Description) (store.Store, error) {
	name, err := desc.requiredStr("name")
	if err != nil {
		return nil, err
	}
	mergeField, err := desc.requiredStr("merge_field")
	if err != nil {
		return nil, err
	}
	primaryDesc, err := desc.nested("primary")
	if err != nil {
		return nil, err
	}
	primary, err := r.HydrateStore(primaryDesc)
	if err != nil {
		return nil, &ConfigError{Path: "primary", Err: err}
	}
	secondaryDescs, err := desc.nestedSlice("secondary")
	if err != nil {
		return nil, err
	}
	secondary := make([]store.Store, len(secondaryDescs))
	for i, sd := range secondaryDescs {
		s, err := r.HydrateStore(sd)
		if err != nil {
			return nil, &ConfigError{Path: fmt.Sprintf("secondary[%d]", i), Err: err}
		}
		secondary[i] = s
	}
	return store.NewJoinStore(name, primary, mergeField, secondary...), nil
}

func hydrateConcatStore(r *Registry, desc Description) (store.Store, error) {
	name, err := desc.requiredStr("name")
	if err != nil {
		return nil, err
	}
	memberDescs, err := desc.nestedSlice("members")
	if err != nil {
		return nil, err
	}
	if len(memberDescs) == 0 {
		return nil, &ConfigError{Path: "members", Err: fmt.Errorf("concat_store requires at least one member")}
	}
	members := make([]store.Store, len(memberDescs))
	for i, md := range memberDescs {
		m, err := r.HydrateStore(md)
		if err != nil {
			return nil, &ConfigError{Path: fmt.Sprintf("members[%d]", i), Err: err}
		}
		members[i] = m
	}
	return store.NewConcatStore(name, members...), nil
}

func hydrateAliasStore(r *Registry, desc Description) (store.Store, error) {
	innerDesc, err := desc.nested("inner")
	if err != nil {
		return nil, err
	}
	inner, err := r.HydrateStore(innerDesc)
	if err != nil {
		return nil, &ConfigError{Path: "inner", Err: err}
	}
	key, lastUpdated, err := keyFields(desc)
	if err != nil {
		return nil, err
	}
	return store.NewAliasStore(inner, key, lastUpdated), nil
}
