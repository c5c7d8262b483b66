package catalog

import (
	"bytes"
	"encoding/json"
)

// Field is an optional JSON field that tells an absent key apart from an explicit null.
type Field[T any] struct {
	Set   bool // Key was present in the payload.
	Null  bool // Key was present with a null value.
	Value T    // Decoded value when Set and not Null.
}

// UnmarshalJSON records presence and decodes non-null values.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Null = true
		var zero T
		f.Value = zero
		return nil
	}
	f.Null = false
	return json.Unmarshal(data, &f.Value)
}

// Present reports whether the field carries a usable value.
func (f Field[T]) Present() bool {
	return f.Set && !f.Null
}

// Some returns a set, non-null field holding v.
func Some[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

// PlanPatch lists the plan fields an admin edit may change.
// Absent fields are left untouched; explicit nulls are rejected for
// required columns and clear optional ones.
type PlanPatch struct {
	Name           Field[string]  `json:"name"`
	Description    Field[string]  `json:"description"`
	Price          Field[float64] `json:"price"`
	Currency       Field[string]  `json:"currency"`
	TokensPerMonth Field[int]     `json:"tokens_per_month"`
	RateLimit      Field[int]     `json:"rate_limit"`
	IsActive       Field[bool]    `json:"is_active"`
}

// Empty reports whether the patch changes nothing.
func (p PlanPatch) Empty() bool {
	return !p.Name.Set && !p.Description.Set && !p.Price.Set && !p.Currency.Set &&
		!p.TokensPerMonth.Set && !p.RateLimit.Set && !p.IsActive.Set
}
