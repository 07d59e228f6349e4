package serial

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/materialsproject/maggma/builder"
	"github.com/materialsproject/maggma/store"
)

func doubleFn(_ Description) (any, error) {
	return builder.UnaryFunction(func(_ context.Context, item store.Document) (store.Document, error) {
		n, _ := item["v"].(float64)
		return store.Document{"v": n * 2}, nil
	}), nil
}

func TestRegistryHydratesMapBuilderFromDescription(t *testing.T) {
	r := NewRegistry()
	r.RegisterFn("double", doubleFn)

	desc := Description{
		"type": "map_builder",
		"name": "doubler",
		"source": Description{
			"type": "memory_store",
			"name": "src",
			"key":  "name",
		},
		"target": Description{
			"type": "memory_store",
			"name": "tgt",
			"key":  "name",
		},
		"fn":             "double",
		"delete_orphans": true,
		"chunk_size":     500,
	}

	b, err := r.HydrateBuilder(desc)
	require.NoError(t, err)

	mb, ok := b.(*builder.MapBuilder)
	require.True(t, ok)
	assert.Equal(t, "doubler", mb.Name())
	assert.True(t, mb.DeleteOrphans)
	assert.Equal(t, 500, mb.ChunkSize)
}

func TestRegistryRejectsUnknownTag(t *testing.T) {
	r := NewRegistry()
	_, err := r.HydrateStore(Description{"type": "mongo_store", "name": "x"})
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRegistryRejectsMissingRequiredField(t *testing.T) {
	r := NewRegistry()
	_, err := r.HydrateStore(Description{"type": "memory_store"})
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "name", cfgErr.Path)
}

func TestDecodeDescriptionsRoundTripsJSONAndYAML(t *testing.T) {
	descs := []Description{
		{
			"type": "memory_store",
			"name": "src",
			"key":  "name",
		},
	}

	jsonData, err := json.Marshal(descs)
	require.NoError(t, err)
	yamlData, err := yaml.Marshal(descs)
	require.NoError(t, err)

	for _, tc := range []struct {
		data      []byte
		unmarshal unmarshalFunc
	}{
		{jsonData, json.Unmarshal},
		{yamlData, yaml.Unmarshal},
	} {
		decoded, err := decodeDescriptions(tc.data, tc.unmarshal)
		require.NoError(t, err)
		require.Len(t, decoded, 1)
		assert.Equal(t, "memory_store", decoded[0]["type"])
		assert.Equal(t, "src", decoded[0]["name"])
	}
}

func TestHydrateCriteriaBuildsEqAndAnd(t *testing.T) {
	crit, err := HydrateCriteria(Description{
		"type": "and",
		"criteria": []any{
			Description{"type": "eq", "fields": Description{"state": "active"}},
			Description{"type": "eq", "fields": Description{"kind": "task"}},
		},
	})
	require.NoError(t, err)

	assert.True(t, crit.Match(store.Document{"state": "active", "kind": "task"}))
	assert.False(t, crit.Match(store.Document{"state": "active", "kind": "other"}))
}
