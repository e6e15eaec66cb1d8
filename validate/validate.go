// Package validate checks decoded messages against the constraints the wire
// schema cannot express. The codec deliberately does not apply these: wire
// fidelity and domain rules stay in separate layers.
package validate

import (
	"fmt"
	"math"

	"github.com/trinhtuanvubk/decwire/decproto"
)

// Logits checks that the shape describes the data: every dimension is
// non-negative and the dimension product equals len(Data). A message with
// no shape and no data is valid; a shape is required as soon as data is
// present.
func Logits(m *decproto.Logits) error {
	want := int64(0)
	if len(m.Shape) > 0 {
		want = 1
		for i, d := range m.Shape {
			if d < 0 {
				return fmt.Errorf("shape[%d] must be >= 0, got %d", i, d)
			}
			if d > 0 && want > math.MaxInt64/d {
				return fmt.Errorf("shape %v overflows the element count", m.Shape)
			}
			want *= d
		}
	}
	if int64(len(m.Data)) != want {
		return fmt.Errorf("shape %v describes %d values, data holds %d", m.Shape, want, len(m.Data))
	}
	return nil
}

// Transcription checks that every beam offset is a usable frame index.
func Transcription(m *decproto.Transcription) error {
	for i, off := range m.BeamDecodedOffsets {
		if off < 0 {
			return fmt.Errorf("beam_decoded_offsets[%d] must be >= 0, got %d", i, off)
		}
	}
	return nil
}

// TranscriptionStrict additionally requires the offsets to be
// non-decreasing, the order a left-to-right beam pass emits them in.
func TranscriptionStrict(m *decproto.Transcription) error {
	if err := Transcription(m); err != nil {
		return err
	}
	for i := 1; i < len(m.BeamDecodedOffsets); i++ {
		if m.BeamDecodedOffsets[i] < m.BeamDecodedOffsets[i-1] {
			return fmt.Errorf("beam_decoded_offsets[%d] decreases: %d after %d", i, m.BeamDecodedOffsets[i], m.BeamDecodedOffsets[i-1])
		}
	}
	return nil
}
