package decproto

import (
	"fmt"
	"math"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from proto/dec.proto. Frozen; producers already exist.
const (
	logitsShapeNum protowire.Number = 1
	logitsDataNum  protowire.Number = 2

	transGreedyNum  protowire.Number = 1
	transBeamNum    protowire.Number = 2
	transOffsetsNum protowire.Number = 3
)

// MarshalBinary encodes the tensor in protobuf wire format. Repeated fields
// are packed. Negative Shape values survive the trip (ten-byte varints) even
// though no valid tensor carries them.
func (m *Logits) MarshalBinary() ([]byte, error) {
	var b []byte
	if len(m.Shape) > 0 {
		b = protowire.AppendTag(b, logitsShapeNum, protowire.BytesType)
		size := 0
		for _, v := range m.Shape {
			size += protowire.SizeVarint(uint64(v))
		}
		b = protowire.AppendVarint(b, uint64(size))
		for _, v := range m.Shape {
			b = protowire.AppendVarint(b, uint64(v))
		}
	}
	if len(m.Data) > 0 {
		b = protowire.AppendTag(b, logitsDataNum, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(4*len(m.Data)))
		for _, v := range m.Data {
			b = protowire.AppendFixed32(b, math.Float32bits(v))
		}
	}
	return b, nil
}

// UnmarshalBinary decodes a wire payload into m. Both packed and unpacked
// encodings of the repeated fields are accepted; unknown fields are parsed
// and skipped. On error m is left unchanged.
func (m *Logits) UnmarshalBinary(data []byte) error {
	var out Logits
	for off := 0; off < len(data); {
		num, typ, n := protowire.ConsumeTag(data[off:])
		if n < 0 {
			return &DecodeError{Message: "Logits", Offset: off, Err: protowire.ParseError(n)}
		}
		off += n
		switch num {
		case logitsShapeNum:
			switch typ {
			case protowire.BytesType:
				pack, n := protowire.ConsumeBytes(data[off:])
				if n < 0 {
					return &DecodeError{Message: "Logits", Field: num, Offset: off, Err: protowire.ParseError(n)}
				}
				head := n - len(pack)
				for p := 0; p < len(pack); {
					v, vn := protowire.ConsumeVarint(pack[p:])
					if vn < 0 {
						return &DecodeError{Message: "Logits", Field: num, Offset: off + head + p, Err: protowire.ParseError(vn)}
					}
					out.Shape = append(out.Shape, int64(v))
					p += vn
				}
				off += n
			case protowire.VarintType:
				v, n := protowire.ConsumeVarint(data[off:])
				if n < 0 {
					return &DecodeError{Message: "Logits", Field: num, Offset: off, Err: protowire.ParseError(n)}
				}
				out.Shape = append(out.Shape, int64(v))
				off += n
			default:
				return &DecodeError{Message: "Logits", Field: num, Offset: off, Err: fmt.Errorf("wire type %d for repeated int64 field", typ)}
			}
		case logitsDataNum:
			switch typ {
			case protowire.BytesType:
				pack, n := protowire.ConsumeBytes(data[off:])
				if n < 0 {
					return &DecodeError{Message: "Logits", Field: num, Offset: off, Err: protowire.ParseError(n)}
				}
				head := n - len(pack)
				for p := 0; p < len(pack); {
					v, vn := protowire.ConsumeFixed32(pack[p:])
					if vn < 0 {
						return &DecodeError{Message: "Logits", Field: num, Offset: off + head + p, Err: protowire.ParseError(vn)}
					}
					out.Data = append(out.Data, math.Float32frombits(v))
					p += vn
				}
				off += n
			case protowire.Fixed32Type:
				v, n := protowire.ConsumeFixed32(data[off:])
				if n < 0 {
					return &DecodeError{Message: "Logits", Field: num, Offset: off, Err: protowire.ParseError(n)}
				}
				out.Data = append(out.Data, math.Float32frombits(v))
				off += n
			default:
				return &DecodeError{Message: "Logits", Field: num, Offset: off, Err: fmt.Errorf("wire type %d for repeated float field", typ)}
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data[off:])
			if n < 0 {
				return &DecodeError{Message: "Logits", Field: num, Offset: off, Err: protowire.ParseError(n)}
			}
			off += n
		}
	}
	*m = out
	return nil
}

// MarshalBinary encodes the transcription in protobuf wire format. Both
// strings must be valid UTF-8; the offsets field is packed.
func (m *Transcription) MarshalBinary() ([]byte, error) {
	if !utf8.ValidString(m.GreedyTrans) {
		return nil, fmt.Errorf("greedy_trans: %w", errInvalidUTF8)
	}
	if !utf8.ValidString(m.BeamTrans) {
		return nil, fmt.Errorf("beam_trans: %w", errInvalidUTF8)
	}
	var b []byte
	if m.GreedyTrans != "" {
		b = protowire.AppendTag(b, transGreedyNum, protowire.BytesType)
		b = protowire.AppendString(b, m.GreedyTrans)
	}
	if m.BeamTrans != "" {
		b = protowire.AppendTag(b, transBeamNum, protowire.BytesType)
		b = protowire.AppendString(b, m.BeamTrans)
	}
	if len(m.BeamDecodedOffsets) > 0 {
		b = protowire.AppendTag(b, transOffsetsNum, protowire.BytesType)
		size := 0
		for _, v := range m.BeamDecodedOffsets {
			size += protowire.SizeVarint(uint64(v))
		}
		b = protowire.AppendVarint(b, uint64(size))
		for _, v := range m.BeamDecodedOffsets {
			b = protowire.AppendVarint(b, uint64(v))
		}
	}
	return b, nil
}

// UnmarshalBinary decodes a wire payload into m. String fields must hold
// valid UTF-8; a repeated occurrence of a string field keeps the last value.
// On error m is left unchanged.
func (m *Transcription) UnmarshalBinary(data []byte) error {
	var out Transcription
	for off := 0; off < len(data); {
		num, typ, n := protowire.ConsumeTag(data[off:])
		if n < 0 {
			return &DecodeError{Message: "Transcription", Offset: off, Err: protowire.ParseError(n)}
		}
		off += n
		switch num {
		case transGreedyNum, transBeamNum:
			if typ != protowire.BytesType {
				return &DecodeError{Message: "Transcription", Field: num, Offset: off, Err: fmt.Errorf("wire type %d for string field", typ)}
			}
			v, n := protowire.ConsumeString(data[off:])
			if n < 0 {
				return &DecodeError{Message: "Transcription", Field: num, Offset: off, Err: protowire.ParseError(n)}
			}
			if !utf8.ValidString(v) {
				return &DecodeError{Message: "Transcription", Field: num, Offset: off, Err: errInvalidUTF8}
			}
			if num == transGreedyNum {
				out.GreedyTrans = v
			} else {
				out.BeamTrans = v
			}
			off += n
		case transOffsetsNum:
			switch typ {
			case protowire.BytesType:
				pack, n := protowire.ConsumeBytes(data[off:])
				if n < 0 {
					return &DecodeError{Message: "Transcription", Field: num, Offset: off, Err: protowire.ParseError(n)}
				}
				head := n - len(pack)
				for p := 0; p < len(pack); {
					v, vn := protowire.ConsumeVarint(pack[p:])
					if vn < 0 {
						return &DecodeError{Message: "Transcription", Field: num, Offset: off + head + p, Err: protowire.ParseError(vn)}
					}
					out.BeamDecodedOffsets = append(out.BeamDecodedOffsets, int64(v))
					p += vn
				}
				off += n
			case protowire.VarintType:
				v, n := protowire.ConsumeVarint(data[off:])
				if n < 0 {
					return &DecodeError{Message: "Transcription", Field: num, Offset: off, Err: protowire.ParseError(n)}
				}
				out.BeamDecodedOffsets = append(out.BeamDecodedOffsets, int64(v))
				off += n
			default:
				return &DecodeError{Message: "Transcription", Field: num, Offset: off, Err: fmt.Errorf("wire type %d for repeated int64 field", typ)}
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data[off:])
			if n < 0 {
				return &DecodeError{Message: "Transcription", Field: num, Offset: off, Err: protowire.ParseError(n)}
			}
			off += n
		}
	}
	*m = out
	return nil
}
