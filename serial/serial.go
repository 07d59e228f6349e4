// Package serial is a self-describing tagged-union registry: it hydrates
// Builders and Stores from persisted descriptions, rather than runtime
// "class by name" hydration. A Description carries a reserved "type"
// field; a Registry maps that field to a constructor, rejecting any tag
// it doesn't recognize as a ConfigError rather than guessing.
//
// LoadDescriptions reads descriptions written as JSON (a ".json" file) or
// YAML (any other extension).
package serial
