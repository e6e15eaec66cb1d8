package validate

import (
	"math"
	"testing"

	"github.com/trinhtuanvubk/decwire/decproto"
)

func TestLogits(t *testing.T) {
	tests := []struct {
		name    string
		m       decproto.Logits
		wantErr bool
	}{
		{"matrix", decproto.Logits{Shape: []int64{2, 3}, Data: make([]float32, 6)}, false},
		{"vector", decproto.Logits{Shape: []int64{4}, Data: make([]float32, 4)}, false},
		{"empty", decproto.Logits{}, false},
		{"zero_dim", decproto.Logits{Shape: []int64{0, 5}}, false},
		{"count_mismatch", decproto.Logits{Shape: []int64{2, 3}, Data: make([]float32, 5)}, true},
		{"shape_without_data", decproto.Logits{Shape: []int64{2, 3}}, true},
		{"data_without_shape", decproto.Logits{Data: make([]float32, 6)}, true},
		{"negative_dim", decproto.Logits{Shape: []int64{2, -3}, Data: make([]float32, 6)}, true},
		{"overflow", decproto.Logits{Shape: []int64{math.MaxInt64, 2}}, true},
		{"zero_dim_with_data", decproto.Logits{Shape: []int64{0}, Data: make([]float32, 1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Logits(&tt.m)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Logits() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTranscription(t *testing.T) {
	ok := decproto.Transcription{GreedyTrans: "cat", BeamDecodedOffsets: []int64{0, 4, 8}}
	if err := Transcription(&ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Transcription(&decproto.Transcription{}); err != nil {
		t.Fatalf("empty transcription should validate: %v", err)
	}
	bad := decproto.Transcription{BeamDecodedOffsets: []int64{0, -4}}
	if err := Transcription(&bad); err == nil {
		t.Fatal("expected error for negative offset")
	}
}

func TestTranscriptionStrict(t *testing.T) {
	tests := []struct {
		name    string
		offsets []int64
		wantErr bool
	}{
		{"increasing", []int64{0, 4, 8}, false},
		{"repeated_frame", []int64{0, 4, 4, 8}, false},
		{"empty", nil, false},
		{"decreasing", []int64{4, 2}, true},
		{"negative", []int64{-1, 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := TranscriptionStrict(&decproto.Transcription{BeamDecodedOffsets: tt.offsets})
			if (err != nil) != tt.wantErr {
				t.Fatalf("TranscriptionStrict() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
