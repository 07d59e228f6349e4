package serial

import (
	"fmt"
	"time"
)

// Description is the self-describing nested-map form of a Builder or
// Store: a reserved "type" field carries the stable tag a Registry
// dispatches on, and every other field is a constructor argument.
// Descriptions round-trip through JSON or YAML unchanged, since
// both decode into exactly this shape (map[string]any, with nested
// Descriptions and []any sequences preserved).
type Description map[string]any

// Tag returns the description's reserved "type" field.
func (d Description) Tag() (string, error) {
	v, ok := d["type"]
	if !ok {
		return "", &ConfigError{Err: fmt.Errorf("missing required \"type\" field")}
	}
	tag, ok := v.(string)
	if !ok {
		return "", &ConfigError{Path: "type", Err: fmt.Errorf("\"type\" must be a string, got %T", v)}
	}
	return tag, nil
}

// str returns d[field] as a string, or def if absent. A present value of
// the wrong type is a ConfigError.
func (d Description) str(field, def string) (string, error) {
	v, ok := d[field]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &ConfigError{Path: field, Err: fmt.Errorf("must be a string, got %T", v)}
	}
	return s, nil
}

// requiredStr is str with no default: absence is a ConfigError.
func (d Description) requiredStr(field string) (string, error) {
	v, ok := d[field]
	if !ok {
		return "", &ConfigError{Path: field, Err: fmt.Errorf("required field missing")}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ConfigError{Path: field, Err: fmt.Errorf("must be a string, got %T", v)}
	}
	return s, nil
}

// boolVal returns d[field] as a bool, or def if absent.
func (d Description) boolVal(field string, def bool) (bool, error) {
	v, ok := d[field]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, &ConfigError{Path: field, Err: fmt.Errorf("must be a bool, got %T", v)}
	}
	return b, nil
}

// intVal returns d[field] as an int, or def if absent. Decoders (viper,
// encoding/json into any) may produce int, int64, or float64 for a
// numeric field; all three are accepted.
func (d Description) intVal(field string, def int) (int, error) {
	v, ok := d[field]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, &ConfigError{Path: field, Err: fmt.Errorf("must be a number, got %T", v)}
	}
}

// durationVal returns d[field] parsed as a time.Duration string (e.g.
// "30s"), or def if absent.
func (d Description) durationVal(field string, def time.Duration) (time.Duration, error) {
	v, ok := d[field]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, &ConfigError{Path: field, Err: fmt.Errorf("must be a duration string, got %T", v)}
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return 0, &ConfigError{Path: field, Err: fmt.Errorf("invalid duration: %w", err)}
	}
	return dur, nil
}

// strSlice returns d[field] as a []string. Decoders produce []any for a
// YAML/JSON sequence, so each element is type-asserted individually.
func (d Description) strSlice(field string) ([]string, error) {
	v, ok := d[field]
	if !ok {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss, nil
		}
		return nil, &ConfigError{Path: field, Err: fmt.Errorf("must be a sequence, got %T", v)}
	}
	out := make([]string, len(raw))
	for i, e := range raw {
		s, ok := e.(string)
		if !ok {
			return nil, &ConfigError{Path: fmt.Sprintf("%s[%d]", field, i), Err: fmt.Errorf("must be a string, got %T", e)}
		}
		out[i] = s
	}
	return out, nil
}

// nested returns d[field] as a Description.
func (d Description) nested(field string) (Description, error) {
	v, ok := d[field]
	if !ok {
		return nil, &ConfigError{Path: field, Err: fmt.Errorf("required nested description missing")}
	}
	return asDescription(v, field)
}

// nestedSlice returns d[field] as a []Description.
func (d Description) nestedSlice(field string) ([]Description, error) {
	v, ok := d[field]
	if !ok {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, &ConfigError{Path: field, Err: fmt.Errorf("must be a sequence, got %T", v)}
	}
	out := make([]Description, len(raw))
	for i, e := range raw {
		desc, err := asDescription(e, fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		out[i] = desc
	}
	return out, nil
}

// asDescription coerces v into a Description. viper/yaml.v3 decoders may
// produce map[string]any directly, or map[any]any for older YAML
// decoders; both are normalized here.
func asDescription(v any, path string) (Description, error) {
	switch m := v.(type) {
	case Description:
		return m, nil
	case map[string]any:
		return Description(m), nil
	case map[any]any:
		out := make(Description, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, &ConfigError{Path: path, Err: fmt.Errorf("map keys must be strings, got %T", k)}
			}
			out[ks] = val
		}
		return out, nil
	default:
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("must be a nested description, got %T", v)}
	}
}
