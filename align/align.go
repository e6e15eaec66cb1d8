// Package align maps beam search offsets back onto time and source audio.
//
// Offsets are frame indices into the logits tensor. How long a frame is
// depends on the model, so every function takes the stride explicitly.
package align

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Span is the stretch of audio one rune of decoded text is attributed to.
// Durations serialize as nanoseconds.
type Span struct {
	Text  string        `json:"text"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Spans pairs each rune of text with its beam offset and converts frame
// indices to time using stride, the duration of one logits frame. A span
// runs from its own offset to the next one; the final span covers a single
// frame. There must be exactly one offset per rune, non-negative and
// non-decreasing. A rune emitted on the same frame as its successor gets a
// zero-width span.
func Spans(text string, offsets []int64, stride time.Duration) ([]Span, error) {
	if stride <= 0 {
		return nil, fmt.Errorf("stride must be positive, got %v", stride)
	}
	if runes := utf8.RuneCountInString(text); runes != len(offsets) {
		return nil, fmt.Errorf("%d runes but %d offsets", runes, len(offsets))
	}
	if len(offsets) == 0 {
		return nil, nil
	}
	spans := make([]Span, 0, len(offsets))
	i := 0
	for _, r := range text {
		off := offsets[i]
		if off < 0 {
			return nil, fmt.Errorf("offset[%d] must be >= 0, got %d", i, off)
		}
		if i > 0 && off < offsets[i-1] {
			return nil, fmt.Errorf("offset[%d] decreases: %d after %d", i, off, offsets[i-1])
		}
		end := off + 1
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		spans = append(spans, Span{
			Text:  string(r),
			Start: time.Duration(off) * stride,
			End:   time.Duration(end) * stride,
		})
		i++
	}
	return spans, nil
}
