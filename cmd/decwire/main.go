// Command decwire is the workbench for decoder wire payloads: converting
// between JSON and wire bytes, inspecting raw fields, checking capture files
// against the message contracts, cutting audio behind decoded spans and
// querying the archive kept by decwired.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/trinhtuanvubk/decwire/align"
	"github.com/trinhtuanvubk/decwire/decproto"
	"github.com/trinhtuanvubk/decwire/internal/archive"
	"github.com/trinhtuanvubk/decwire/internal/config"
	"github.com/trinhtuanvubk/decwire/validate"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "encode":
		fs := flag.NewFlagSet("encode", flag.ExitOnError)
		typ := fs.String("type", "trans", "Message type: logits or trans")
		in := fs.String("in", "-", "Input JSON file, - for stdin")
		out := fs.String("out", "-", "Output wire file, - for stdout")
		stream := fs.Bool("stream", false, "Read JSON lines and write delimited records")
		fs.Parse(os.Args[2:])
		err = runEncode(*typ, *in, *out, *stream)
	case "decode":
		fs := flag.NewFlagSet("decode", flag.ExitOnError)
		typ := fs.String("type", "trans", "Message type: logits or trans")
		in := fs.String("in", "-", "Input wire file, - for stdin")
		out := fs.String("out", "-", "Output JSON file, - for stdout")
		stream := fs.Bool("stream", false, "Read delimited records and write JSON lines")
		fs.Parse(os.Args[2:])
		err = runDecode(*typ, *in, *out, *stream)
	case "inspect":
		fs := flag.NewFlagSet("inspect", flag.ExitOnError)
		in := fs.String("in", "-", "Wire payload, - for stdin")
		fs.Parse(os.Args[2:])
		err = runInspect(*in)
	case "validate":
		fs := flag.NewFlagSet("validate", flag.ExitOnError)
		strict := fs.Bool("strict", false, "Require non-decreasing offsets")
		workers := fs.Int("workers", 4, "Files checked in parallel")
		fs.Parse(os.Args[2:])
		err = runValidate(fs.Args(), *strict, *workers)
	case "clip":
		fs := flag.NewFlagSet("clip", flag.ExitOnError)
		in := fs.String("in", "", "Capture file with transcription records")
		record := fs.Int("record", 0, "Record index within the capture file")
		wavPath := fs.String("wav", "", "Source WAV recording")
		out := fs.String("out", "clip.wav", "Output WAV file")
		strideMS := fs.Int("stride-ms", 20, "Model frame stride in milliseconds")
		from := fs.Int("from", 0, "First span index")
		to := fs.Int("to", -1, "Last span index, -1 for the end")
		fs.Parse(os.Args[2:])
		err = runClip(*in, *wavPath, *out, *record, *from, *to, *strideMS)
	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		configPath := fs.String("config", "decwire.yaml", "Path to configuration file")
		kind := fs.String("kind", "trans", "Record kind: logits or trans")
		limit := fs.Int("limit", 20, "Maximum records to show")
		fs.Parse(os.Args[2:])
		err = runList(*configPath, *kind, *limit)
	case "export":
		fs := flag.NewFlagSet("export", flag.ExitOnError)
		configPath := fs.String("config", "decwire.yaml", "Path to configuration file")
		kind := fs.String("kind", "trans", "Record kind: logits or trans")
		id := fs.Int64("id", 0, "Archive record id")
		out := fs.String("out", "-", "Output wire file, - for stdout")
		fs.Parse(os.Args[2:])
		err = runExport(*configPath, *kind, *id, *out)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: decwire <command> [flags]

commands:
  encode    JSON to wire bytes
  decode    wire bytes to JSON
  inspect   dump raw wire fields without a schema
  validate  check capture files against the message contracts
  clip      cut the audio behind a span of decoded text
  list      list archived records
  export    write one archived payload
  version   print version`)
}

// wireMessage is what every command needs from a message: both wire codecs.
// JSON conversion goes through encoding/json on the concrete type.
type wireMessage interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

func newMessage(typ string) (func() wireMessage, error) {
	switch typ {
	case "logits":
		return func() wireMessage { return new(decproto.Logits) }, nil
	case "trans", "transcription":
		return func() wireMessage { return new(decproto.Transcription) }, nil
	}
	return nil, fmt.Errorf("unknown message type %q (want logits or trans)", typ)
}

func runEncode(typ, in, out string, stream bool) error {
	factory, err := newMessage(typ)
	if err != nil {
		return err
	}
	raw, err := readInput(in)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if stream {
		sc := bufio.NewScanner(bytes.NewReader(raw))
		sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
		line := 0
		for sc.Scan() {
			line++
			text := bytes.TrimSpace(sc.Bytes())
			if len(text) == 0 {
				continue
			}
			m := factory()
			if err := json.Unmarshal(text, m); err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			if _, err := decproto.WriteDelimited(&buf, m); err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
		}
		if err := sc.Err(); err != nil {
			return err
		}
	} else {
		m := factory()
		if err := json.Unmarshal(raw, m); err != nil {
			return err
		}
		payload, err := m.MarshalBinary()
		if err != nil {
			return err
		}
		buf.Write(payload)
	}
	return writeOutput(out, buf.Bytes())
}

func runDecode(typ, in, out string, stream bool) error {
	factory, err := newMessage(typ)
	if err != nil {
		return err
	}
	raw, err := readInput(in)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if stream {
		r := decproto.NewReader(bytes.NewReader(raw))
		for {
			m := factory()
			if err := r.Next(m); err == io.EOF {
				break
			} else if err != nil {
				return err
			}
			line, err := json.Marshal(m)
			if err != nil {
				return err
			}
			buf.Write(line)
			buf.WriteByte('\n')
		}
	} else {
		m := factory()
		if err := m.UnmarshalBinary(raw); err != nil {
			return err
		}
		doc, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return err
		}
		buf.Write(doc)
		buf.WriteByte('\n')
	}
	return writeOutput(out, buf.Bytes())
}

func runInspect(in string) error {
	raw, err := readInput(in)
	if err != nil {
		return err
	}
	fields, err := decproto.ParseRaw(raw)
	if err != nil {
		return err
	}
	for _, f := range fields {
		fmt.Println(formatRawField(f))
	}
	return nil
}

func formatRawField(f decproto.RawField) string {
	switch f.Type {
	case protowire.VarintType:
		return fmt.Sprintf("%06d field=%d varint  value=%d", f.Offset, f.Number, f.Varint)
	case protowire.Fixed32Type:
		return fmt.Sprintf("%06d field=%d fixed32 value=0x%08x float=%g",
			f.Offset, f.Number, uint32(f.Fixed), math.Float32frombits(uint32(f.Fixed)))
	case protowire.Fixed64Type:
		return fmt.Sprintf("%06d field=%d fixed64 value=0x%016x", f.Offset, f.Number, f.Fixed)
	case protowire.BytesType:
		return fmt.Sprintf("%06d field=%d bytes   len=%d %s", f.Offset, f.Number, len(f.Bytes), bytesPreview(f.Bytes))
	case protowire.StartGroupType:
		return fmt.Sprintf("%06d field=%d group   len=%d", f.Offset, f.Number, f.Length)
	}
	return fmt.Sprintf("%06d field=%d type=%d", f.Offset, f.Number, f.Type)
}

func bytesPreview(b []byte) string {
	const max = 24
	trunc := ""
	if len(b) > max {
		b = b[:max]
		trunc = "..."
	}
	for _, r := range string(b) {
		if r == utf8.RuneError || !strconv.IsPrint(r) {
			return fmt.Sprintf("%x%s", b, trunc)
		}
	}
	return strconv.Quote(string(b)) + trunc
}

func runValidate(paths []string, strict bool, workers int) error {
	if len(paths) == 0 {
		return errors.New("validate: no input files")
	}
	var failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for _, path := range paths {
		g.Go(func() error {
			violations, err := checkFile(path, strict)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed.Add(1)
				return nil
			}
			if violations > 0 {
				failed.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d files failed validation", n, len(paths))
	}
	fmt.Printf("%d files ok\n", len(paths))
	return nil
}

// checkFile runs the contract checks over every record in one capture file.
// Violations are printed as they are found; a decode error aborts the file.
func checkFile(path string, strict bool) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	r := decproto.NewReader(f)

	violations := 0
	switch filepath.Ext(path) {
	case ".logits":
		for idx := 0; ; idx++ {
			var m decproto.Logits
			if err := r.Next(&m); err == io.EOF {
				return violations, nil
			} else if err != nil {
				return violations, fmt.Errorf("record %d: %w", idx, err)
			}
			if err := validate.Logits(&m); err != nil {
				fmt.Fprintf(os.Stderr, "%s: record %d: %v\n", path, idx, err)
				violations++
			}
		}
	case ".trans":
		check := validate.Transcription
		if strict {
			check = validate.TranscriptionStrict
		}
		for idx := 0; ; idx++ {
			var m decproto.Transcription
			if err := r.Next(&m); err == io.EOF {
				return violations, nil
			} else if err != nil {
				return violations, fmt.Errorf("record %d: %w", idx, err)
			}
			if err := check(&m); err != nil {
				fmt.Fprintf(os.Stderr, "%s: record %d: %v\n", path, idx, err)
				violations++
			}
		}
	}
	return 0, fmt.Errorf("unknown capture extension %q (want .logits or .trans)", filepath.Ext(path))
}

func runClip(in, wavPath, out string, record, from, to, strideMS int) error {
	if in == "" || wavPath == "" {
		return errors.New("clip: -in and -wav are required")
	}
	raw, err := readInput(in)
	if err != nil {
		return err
	}

	r := decproto.NewReader(bytes.NewReader(raw))
	var m decproto.Transcription
	for i := 0; ; i++ {
		var cur decproto.Transcription
		if err := r.Next(&cur); err == io.EOF {
			return fmt.Errorf("record %d not found in %s", record, in)
		} else if err != nil {
			return err
		}
		if i == record {
			m = cur
			break
		}
	}

	text := m.BeamTrans
	if text == "" {
		text = m.GreedyTrans
	}
	spans, err := align.Spans(text, m.BeamDecodedOffsets, time.Duration(strideMS)*time.Millisecond)
	if err != nil {
		return err
	}
	if len(spans) == 0 {
		return errors.New("record carries no offsets to clip")
	}
	if to < 0 || to >= len(spans) {
		to = len(spans) - 1
	}
	if from < 0 || from > to {
		return fmt.Errorf("span range %d..%d out of bounds", from, to)
	}

	for i := from; i <= to; i++ {
		fmt.Printf("%3d %10s %10s %q\n", i, spans[i].Start, spans[i].End, spans[i].Text)
	}
	if err := align.ClipWAV(wavPath, out, spans[from].Start, spans[to].End); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%s..%s)\n", out, spans[from].Start, spans[to].End)
	return nil
}

func runList(configPath, kind string, limit int) error {
	store, err := openArchive(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	switch kind {
	case "trans", "transcription":
		records, err := store.RecentTranscriptions(ctx, limit)
		if err != nil {
			return err
		}
		fmt.Printf("%-6s %-25s %-20s %-4s %s\n", "ID", "CREATED", "SOURCE", "REC", "TEXT")
		for _, r := range records {
			fmt.Printf("%-6d %-25s %-20s %-4d %s\n",
				r.ID, r.CreatedAt.Format(time.RFC3339), r.Source, r.Record, r.Greedy)
		}
	case "logits":
		records, err := store.RecentLogits(ctx, limit)
		if err != nil {
			return err
		}
		fmt.Printf("%-6s %-25s %-20s %-4s %-10s %s\n", "ID", "CREATED", "SOURCE", "REC", "SHAPE", "ELEMS")
		for _, r := range records {
			fmt.Printf("%-6d %-25s %-20s %-4d %-10s %d\n",
				r.ID, r.CreatedAt.Format(time.RFC3339), r.Source, r.Record, r.Shape, r.Elements)
		}
	default:
		return fmt.Errorf("unknown record kind %q (want logits or trans)", kind)
	}
	return nil
}

func runExport(configPath, kind string, id int64, out string) error {
	if id <= 0 {
		return errors.New("export: -id is required")
	}
	store, err := openArchive(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	var payload []byte
	switch kind {
	case "trans", "transcription":
		rec, err := store.TranscriptionByID(ctx, id)
		if err != nil {
			return err
		}
		payload = rec.Payload
	case "logits":
		rec, err := store.LogitsByID(ctx, id)
		if err != nil {
			return err
		}
		payload = rec.Payload
	default:
		return fmt.Errorf("unknown record kind %q (want logits or trans)", kind)
	}
	return writeOutput(out, payload)
}

func openArchive(configPath string) (*archive.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return archive.Open(context.Background(), cfg.Archive, logger)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
