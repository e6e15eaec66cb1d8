package decproto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// RawField is one top-level field occurrence in a wire payload, seen
// without schema knowledge.
type RawField struct {
	Number protowire.Number
	Type   protowire.Type
	Offset int    // byte offset of the field's tag
	Length int    // encoded length including the tag
	Bytes  []byte // value for length-delimited fields
	Varint uint64 // value for varint fields
	Fixed  uint64 // value for fixed32 and fixed64 fields
}

// ParseRaw walks a payload tag by tag and returns every top-level field
// occurrence. It performs the same structural checks as decoding, so a
// payload ParseRaw accepts will also decode as any message whose field
// numbers and wire types line up.
func ParseRaw(data []byte) ([]RawField, error) {
	var fields []RawField
	for off := 0; off < len(data); {
		start := off
		num, typ, n := protowire.ConsumeTag(data[off:])
		if n < 0 {
			return nil, &DecodeError{Message: "raw", Offset: off, Err: protowire.ParseError(n)}
		}
		off += n
		f := RawField{Number: num, Type: typ, Offset: start}
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data[off:])
			if n < 0 {
				return nil, &DecodeError{Message: "raw", Field: num, Offset: off, Err: protowire.ParseError(n)}
			}
			f.Varint = v
			off += n
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data[off:])
			if n < 0 {
				return nil, &DecodeError{Message: "raw", Field: num, Offset: off, Err: protowire.ParseError(n)}
			}
			f.Fixed = uint64(v)
			off += n
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data[off:])
			if n < 0 {
				return nil, &DecodeError{Message: "raw", Field: num, Offset: off, Err: protowire.ParseError(n)}
			}
			f.Fixed = v
			off += n
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data[off:])
			if n < 0 {
				return nil, &DecodeError{Message: "raw", Field: num, Offset: off, Err: protowire.ParseError(n)}
			}
			f.Bytes = v
			off += n
		case protowire.StartGroupType:
			n := protowire.ConsumeFieldValue(num, typ, data[off:])
			if n < 0 {
				return nil, &DecodeError{Message: "raw", Field: num, Offset: off, Err: protowire.ParseError(n)}
			}
			off += n
		default:
			return nil, &DecodeError{Message: "raw", Field: num, Offset: off, Err: fmt.Errorf("wire type %d", typ)}
		}
		f.Length = off - start
		fields = append(fields, f)
	}
	return fields, nil
}
