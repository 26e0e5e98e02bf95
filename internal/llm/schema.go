package llm

import (
	"encoding/json"
	"fmt"
)

// Validator checks that extracted JSON has the shape a caller expects.
// Validation failures are call-level failures: the caller treats the
// completion as malformed output, not as a graded quality verdict.
type Validator interface {
	Validate(data []byte) error
}

// ValidatorFunc adapts a function to the Validator interface
type ValidatorFunc func(data []byte) error

func (f ValidatorFunc) Validate(data []byte) error { return f(data) }

// ObjectWithKeys validates that the payload is a JSON object containing
// every listed key
func ObjectWithKeys(keys ...string) Validator {
	return ValidatorFunc(func(data []byte) error {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("expected JSON object: %w", err)
		}
		for _, k := range keys {
			if _, ok := obj[k]; !ok {
				return fmt.Errorf("missing required key %q", k)
			}
		}
		return nil
	})
}

// NonEmptyStringArray validates that the payload is a JSON array of at
// least min non-empty strings
func NonEmptyStringArray(min int) Validator {
	return ValidatorFunc(func(data []byte) error {
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("expected JSON string array: %w", err)
		}
		if len(items) < min {
			return fmt.Errorf("expected at least %d elements, got %d", min, len(items))
		}
		for i, item := range items {
			if item == "" {
				return fmt.Errorf("element %d is empty", i)
			}
		}
		return nil
	})
}
