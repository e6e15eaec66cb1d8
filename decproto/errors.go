package decproto

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var errInvalidUTF8 = errors.New("invalid UTF-8 in string field")

// DecodeError reports a malformed wire payload: truncated input, an invalid
// varint, or an unexpected wire type on a known field. Offset is the byte
// position in the payload where decoding stopped; Field is zero when the
// failure is not tied to a field, for example a bad tag.
type DecodeError struct {
	Message string
	Field   protowire.Number
	Offset  int
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Field > 0 {
		return fmt.Sprintf("decode %s: field %d at offset %d: %v", e.Message, e.Field, e.Offset, e.Err)
	}
	return fmt.Sprintf("decode %s: offset %d: %v", e.Message, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
