package align

import (
	"testing"
	"time"
)

func TestSpans(t *testing.T) {
	spans, err := Spans("cat", []int64{0, 4, 8}, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("spans: %v", err)
	}
	want := []Span{
		{Text: "c", Start: 0, End: 80 * time.Millisecond},
		{Text: "a", Start: 80 * time.Millisecond, End: 160 * time.Millisecond},
		{Text: "t", Start: 160 * time.Millisecond, End: 180 * time.Millisecond},
	}
	if len(spans) != len(want) {
		t.Fatalf("expected %d spans, got %d", len(want), len(spans))
	}
	for i := range want {
		if spans[i] != want[i] {
			t.Fatalf("span %d: got %+v want %+v", i, spans[i], want[i])
		}
	}
}

func TestSpansMultiByteRunes(t *testing.T) {
	spans, err := Spans("né", []int64{2, 5}, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("spans: %v", err)
	}
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Text != "n" || spans[1].Text != "é" {
		t.Fatalf("unexpected rune split: %+v", spans)
	}
	if spans[1].Start != 100*time.Millisecond || spans[1].End != 120*time.Millisecond {
		t.Fatalf("unexpected final span: %+v", spans[1])
	}
}

func TestSpansRepeatedFrame(t *testing.T) {
	spans, err := Spans("aa", []int64{4, 4}, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("spans: %v", err)
	}
	if spans[0].Start != 80*time.Millisecond || spans[0].End != 80*time.Millisecond {
		t.Fatalf("expected zero-width first span, got %+v", spans[0])
	}
	if spans[1].End != 100*time.Millisecond {
		t.Fatalf("unexpected final span: %+v", spans[1])
	}
}

func TestSpansEmpty(t *testing.T) {
	spans, err := Spans("", nil, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("spans: %v", err)
	}
	if len(spans) != 0 {
		t.Fatalf("expected no spans, got %d", len(spans))
	}
}

func TestSpansErrors(t *testing.T) {
	if _, err := Spans("cat", []int64{0, 4}, 20*time.Millisecond); err == nil {
		t.Fatal("expected error for rune/offset count mismatch")
	}
	if _, err := Spans("ab", []int64{0, -4}, 20*time.Millisecond); err == nil {
		t.Fatal("expected error for negative offset")
	}
	if _, err := Spans("ab", []int64{4, 2}, 20*time.Millisecond); err == nil {
		t.Fatal("expected error for decreasing offsets")
	}
	if _, err := Spans("a", []int64{0}, 0); err == nil {
		t.Fatal("expected error for zero stride")
	}
}
