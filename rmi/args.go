package rmi

import (
	"encoding/json"
	"fmt"
)

// Args are the positional arguments of a request, still JSON-encoded.
type Args []json.RawMessage

// Bind decodes the arguments into the given pointers, in order.
// The number of arguments must match exactly.
func (a Args) Bind(dst ...any) error {
	if len(a) != len(dst) {
		return fmt.Errorf("%w: expected %d arguments, got %d", ErrInvalidArgument, len(dst), len(a))
	}
	for i, raw := range a {
		if err := json.Unmarshal(raw, dst[i]); err != nil {
			return fmt.Errorf("%w: decoding argument %d: %s", ErrInvalidArgument, i, err)
		}
	}
	return nil
}
