// Package decproto implements the wire format for the decoder service
// messages defined in proto/dec.proto.
//
// The codec is hand-maintained against the schema. Encoding packs repeated
// scalar fields and omits zero values, so a zero-value message encodes to an
// empty payload. Decoding accepts both packed and unpacked repeated fields,
// skips unknown fields, and never leaves a receiver partially populated: on
// any error the receiver is untouched.
package decproto

import "math"

// Logits is a model's output score tensor, flattened row-major.
//
// len(Data) must equal the product of Shape for the tensor to be
// well-formed. The wire format cannot express that constraint, so it is not
// enforced here; see the validate package.
type Logits struct {
	Shape []int64
	Data  []float32
}

// Transcription is the decoded text for one utterance. BeamDecodedOffsets
// are frame indices into the logits tensor the beam path traversed; their
// time scale depends on the model stride.
type Transcription struct {
	GreedyTrans        string  `json:"greedy_trans,omitempty"`
	BeamTrans          string  `json:"beam_trans,omitempty"`
	BeamDecodedOffsets []int64 `json:"beam_decoded_offsets,omitempty"`
}

// Equal reports whether the two tensors are identical. Floats are compared
// by bit pattern, so tensors holding NaN compare equal to themselves.
func (m *Logits) Equal(o *Logits) bool {
	if m == nil || o == nil {
		return m == o
	}
	if len(m.Shape) != len(o.Shape) || len(m.Data) != len(o.Data) {
		return false
	}
	for i, v := range m.Shape {
		if o.Shape[i] != v {
			return false
		}
	}
	for i, v := range m.Data {
		if math.Float32bits(o.Data[i]) != math.Float32bits(v) {
			return false
		}
	}
	return true
}

// Equal reports whether the two transcriptions are identical.
func (m *Transcription) Equal(o *Transcription) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.GreedyTrans != o.GreedyTrans || m.BeamTrans != o.BeamTrans {
		return false
	}
	if len(m.BeamDecodedOffsets) != len(o.BeamDecodedOffsets) {
		return false
	}
	for i, v := range m.BeamDecodedOffsets {
		if o.BeamDecodedOffsets[i] != v {
			return false
		}
	}
	return true
}
