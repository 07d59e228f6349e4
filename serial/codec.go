package serial

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/materialsproject/maggma/codec"
)

// unmarshalFunc abstracts over the two textual encodings a description
// may use. JSON goes through
// the codec package's JSON Codec, the same one the report package uses
// for event payloads (the distributed wire format is gob, not this
// codec). YAML is a description-only format not
// otherwise needed elsewhere in the module, so it is used directly via
// gopkg.in/yaml.v3 rather than added as a second codec.Codec entry; a
// description's encoding is chosen by file extension, not a runtime tag.
type unmarshalFunc func(data []byte, v any) error

func unmarshalerFor(path string) unmarshalFunc {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		c, _ := codec.ByName("json")
		return c.Unmarshal
	}
	return yaml.Unmarshal
}

// LoadDescriptions reads path and decodes it as either a single
// description or a sequence of descriptions, normalizing to a
// []Description either way. The round trip (serialize, write to a text
// document, deserialize, run) holds for both encodings: nested maps,
// sequences, numbers, booleans, strings, and RFC3339 timestamp strings
// all survive encode/decode unchanged.
func LoadDescriptions(path string) ([]Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return decodeDescriptions(data, unmarshalerFor(path))
}

func decodeDescriptions(data []byte, unmarshal unmarshalFunc) ([]Description, error) {
	var seq []any
	if err := unmarshal(data, &seq); err == nil {
		out := make([]Description, len(seq))
		for i, v := range seq {
			d, err := asDescription(v, fmt.Sprintf("[%d]", i))
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	}

	var single map[string]any
	if err := unmarshal(data, &single); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("decode description: %w", err)}
	}
	return []Description{Description(single)}, nil
}
