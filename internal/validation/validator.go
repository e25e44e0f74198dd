package validation

import "github.com/obwan02/Actionator/internal/actions"

// Decoder turns a raw request payload into an action's argument record.
// Validation uses JSON Schema Draft 2020-12 generated from the descriptor.
type Decoder interface {
	Decode(d *actions.Descriptor, raw []byte) (actions.Args, error)
}
