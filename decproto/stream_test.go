package decproto

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"
)

func TestStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := []*Transcription{
		sampleTranscription(),
		{GreedyTrans: "next utterance"},
		{BeamDecodedOffsets: []int64{1, 2, 3}},
	}
	for _, m := range want {
		if _, err := WriteDelimited(&buf, m); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	r := NewReader(&buf)
	var got []*Transcription
	for {
		var m Transcription
		err := r.Next(&m)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, &m)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("record %d mismatch: got %+v want %+v", i, *got[i], *want[i])
		}
	}
}

func TestStreamWriteCount(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteDelimited(&buf, sampleLogits())
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != buf.Len() {
		t.Fatalf("reported %d bytes, wrote %d", n, buf.Len())
	}
	// 30-byte payload plus a one-byte length prefix.
	if n != len(logitsWire)+1 {
		t.Fatalf("unexpected frame size %d", n)
	}
}

func TestStreamCleanEOF(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	var m Transcription
	if err := r.Next(&m); err != io.EOF {
		t.Fatalf("expected io.EOF on empty input, got %v", err)
	}
}

func TestStreamTruncatedRecord(t *testing.T) {
	var buf bytes.Buffer
	if _, err := WriteDelimited(&buf, sampleTranscription()); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := buf.Bytes()

	r := NewReader(bytes.NewReader(frame[:len(frame)-1]))
	var m Transcription
	err := r.Next(&m)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF in chain, got %v", err)
	}
}

func TestStreamTruncatedPrefix(t *testing.T) {
	// A lone continuation byte is a length prefix cut short, not a clean
	// end of stream.
	r := NewReader(bytes.NewReader([]byte{0x80}))
	var m Transcription
	err := r.Next(&m)
	if err == io.EOF {
		t.Fatal("expected a decode error, got clean EOF")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF in chain, got %v", err)
	}
}

func TestStreamSizeLimit(t *testing.T) {
	var buf bytes.Buffer
	if _, err := WriteDelimited(&buf, sampleLogits()); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := NewReader(&buf)
	r.SetMaxMessageSize(4)
	var m Logits
	err := r.Next(&m)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestStreamByteAtATimeReader(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		m := &Logits{Shape: []int64{1, 2}, Data: []float32{float32(i), float32(i + 1)}}
		if _, err := WriteDelimited(&buf, m); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	r := NewReader(iotest.OneByteReader(&buf))
	count := 0
	for {
		var m Logits
		err := r.Next(&m)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if want := float32(count); m.Data[0] != want {
			t.Fatalf("record %d out of order: %v", count, m.Data)
		}
		count++
	}
	if count != 3 {
		t.Fatalf("expected 3 records, got %d", count)
	}
}
