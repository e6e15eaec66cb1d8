package decproto

import (
	"bytes"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestParseRawLogitsWire(t *testing.T) {
	fields, err := ParseRaw(logitsWire)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}
	if fields[0].Number != 1 || fields[0].Type != protowire.BytesType {
		t.Fatalf("unexpected first field: %+v", fields[0])
	}
	if !bytes.Equal(fields[0].Bytes, []byte{0x02, 0x03}) {
		t.Fatalf("unexpected shape block: %x", fields[0].Bytes)
	}
	if fields[0].Offset != 0 || fields[0].Length != 4 {
		t.Fatalf("unexpected extents: %+v", fields[0])
	}
	if fields[1].Number != 2 || len(fields[1].Bytes) != 24 {
		t.Fatalf("unexpected data field: %+v", fields[1])
	}
	if fields[1].Offset != 4 || fields[1].Length != 26 {
		t.Fatalf("unexpected extents: %+v", fields[1])
	}
}

func TestParseRawScalarTypes(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, 300)
	b = protowire.AppendTag(b, 5, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 0xDEADBEEF)
	b = protowire.AppendTag(b, 6, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 1<<40)

	fields, err := ParseRaw(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(fields))
	}
	if fields[0].Varint != 300 {
		t.Fatalf("unexpected varint: %d", fields[0].Varint)
	}
	if fields[1].Fixed != 0xDEADBEEF {
		t.Fatalf("unexpected fixed32: %x", fields[1].Fixed)
	}
	if fields[2].Fixed != 1<<40 {
		t.Fatalf("unexpected fixed64: %x", fields[2].Fixed)
	}
}

func TestParseRawEmpty(t *testing.T) {
	fields, err := ParseRaw(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(fields) != 0 {
		t.Fatalf("expected no fields, got %d", len(fields))
	}
}

func TestParseRawMalformed(t *testing.T) {
	for _, payload := range [][]byte{
		{0x80},
		{0x00},
		{0x0A, 0x05, 'x'},
		logitsWire[:3],
	} {
		if _, err := ParseRaw(payload); err == nil {
			t.Fatalf("expected error for %x", payload)
		}
	}
}
