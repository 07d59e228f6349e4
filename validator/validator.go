// Package validator defines the pluggable per-document validation contract
// Non-goals allow in place of general schema enforcement.
package validator

import "github.com/materialsproject/maggma/store"

// Validator checks one output document before it reaches update_targets.
// A Validator returning an error marks the item failed the same way a
// process_item error does; it is never consulted by a bare Builder, only
// by the template builders (MapBuilder, GroupBuilder) when configured.
type Validator interface {
	Validate(doc store.Document) error
}

// Func adapts a plain function to Validator.
type Func func(store.Document) error

// Validate implements Validator.
func (f Func) Validate(doc store.Document) error { return f(doc) }

// RequiredFields returns a Validator rejecting documents missing any of
// the named fields.
func RequiredFields(fields ...string) Validator {
	return Func(func(doc store.Document) error {
		for _, f := range fields {
			if _, ok := doc[f]; !ok {
				return &MissingFieldError{Field: f}
			}
		}
		return nil
	})
}

// MissingFieldError reports a document missing a required field.
type MissingFieldError struct {
	Field string
}

// Error implements error.
func (e *MissingFieldError) Error() string {
	return "validator: missing required field " + e.Field
}
