package engine

import (
	"encoding/json"
	"fmt"
)

// Outcome is the result of a cancellable operation.
// Cancelled is set when Stop pre-empted the operation; Value is then empty.
// An outcome that is neither cancelled nor carries a value means the worker had no answer.
type Outcome struct {
	Value     json.RawMessage
	Cancelled bool
}

// Empty reports whether the outcome carries no value, for either reason.
func (o Outcome) Empty() bool {
	return o.Cancelled || len(o.Value) == 0
}

// Decode unmarshals the value into v.
func (o Outcome) Decode(v any) error {
	if o.Empty() {
		return ErrNoValue
	}
	if err := json.Unmarshal(o.Value, v); err != nil {
		return fmt.Errorf("decoding outcome: %w", err)
	}
	return nil
}
