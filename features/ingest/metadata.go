package ingest

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest marks submission-boundary validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// reservedKeys would collide with the payload fields every point carries.
var reservedKeys = map[string]bool{
	"text":        true,
	"source":      true,
	"chunk_index": true,
}

// ValidateMetadata enforces the closed key->scalar contract: string, bool,
// and numeric values only, no nesting, no reserved keys. Validation lives
// here at the boundary so the worker can trust the payload shape.
func ValidateMetadata(metadata map[string]any) error {
	for k, v := range metadata {
		if k == "" {
			return fmt.Errorf("%w: metadata key must be non-empty", ErrInvalidRequest)
		}
		if reservedKeys[k] {
			return fmt.Errorf("%w: metadata key %q is reserved", ErrInvalidRequest, k)
		}
		switch v.(type) {
		case string, bool, float64, int, int64:
		default:
			return fmt.Errorf("%w: metadata value for %q must be a string, number, or boolean", ErrInvalidRequest, k)
		}
	}
	return nil
}
