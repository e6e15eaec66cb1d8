package ingest

import (
	"bytes"
	"context"
	"encoding"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/trinhtuanvubk/decwire/decproto"
	"github.com/trinhtuanvubk/decwire/internal/archive"
	"github.com/trinhtuanvubk/decwire/internal/config"
	"github.com/trinhtuanvubk/decwire/internal/sink"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type captureSink struct {
	mu         sync.Mutex
	fail       bool
	deliveries []sink.Delivery
}

func (c *captureSink) Deliver(_ context.Context, d sink.Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("sink down")
	}
	c.deliveries = append(c.deliveries, d)
	return nil
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deliveries)
}

func newTestService(t *testing.T, strict bool) (*Service, *archive.Store, *captureSink) {
	t.Helper()
	dir := t.TempDir()
	store, err := archive.Open(context.Background(), config.ArchiveConfig{
		Path:          filepath.Join(dir, "archive.db"),
		RetentionMode: "persistent",
	}, newLogger())
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cs := &captureSink{}
	cfg := config.IngestConfig{
		Enabled:        true,
		SpoolDir:       filepath.Join(dir, "spool"),
		PollIntervalMS: 50,
		Workers:        2,
		MaxMessageMB:   4,
		FrameStrideMS:  20,
		StrictOffsets:  strict,
	}
	svc := NewService(context.Background(), cfg, store, cs, newLogger())
	t.Cleanup(svc.Close)
	if err := os.MkdirAll(filepath.Join(cfg.SpoolDir, processedDir), 0o755); err != nil {
		t.Fatalf("create spool: %v", err)
	}
	return svc, store, cs
}

func writeSpoolFile(t *testing.T, path string, msgs ...encoding.BinaryMarshaler) {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range msgs {
		if _, err := decproto.WriteDelimited(&buf, m); err != nil {
			t.Fatalf("write record: %v", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write spool file: %v", err)
	}
}

func TestSweepArchivesAndDelivers(t *testing.T) {
	svc, store, cs := newTestService(t, false)
	spool := svc.cfg.SpoolDir

	writeSpoolFile(t, filepath.Join(spool, "utt-1.trans"),
		&decproto.Transcription{GreedyTrans: "cat", BeamTrans: "cat", BeamDecodedOffsets: []int64{0, 4, 8}},
		&decproto.Transcription{GreedyTrans: "dog", BeamTrans: "dog", BeamDecodedOffsets: []int64{1, 3, 9}},
	)
	writeSpoolFile(t, filepath.Join(spool, "utt-1.logits"),
		&decproto.Logits{Shape: []int64{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}},
	)

	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	trans, err := store.RecentTranscriptions(context.Background(), 10)
	if err != nil {
		t.Fatalf("query transcriptions: %v", err)
	}
	if len(trans) != 2 {
		t.Fatalf("expected 2 archived transcriptions, got %d", len(trans))
	}
	if trans[0].Source != "utt-1.trans" {
		t.Fatalf("unexpected source %q", trans[0].Source)
	}
	if trans[0].Record != 1 || trans[1].Record != 0 {
		t.Fatalf("unexpected record indexes %d/%d", trans[0].Record, trans[1].Record)
	}

	logits, err := store.RecentLogits(context.Background(), 10)
	if err != nil {
		t.Fatalf("query logits: %v", err)
	}
	if len(logits) != 1 {
		t.Fatalf("expected 1 archived tensor, got %d", len(logits))
	}
	if logits[0].Shape != "2x3" || logits[0].Elements != 6 {
		t.Fatalf("unexpected tensor summary %q/%d", logits[0].Shape, logits[0].Elements)
	}

	if got := cs.count(); got != 2 {
		t.Fatalf("expected 2 sink deliveries, got %d", got)
	}
	if cs.deliveries[0].Source != "utt-1.trans" {
		t.Fatalf("unexpected delivery source %q", cs.deliveries[0].Source)
	}
	spans := cs.deliveries[0].Spans
	if len(spans) != 3 {
		t.Fatalf("expected 3 aligned spans, got %d", len(spans))
	}
	if spans[1].Start != 80*time.Millisecond || spans[1].End != 160*time.Millisecond {
		t.Fatalf("unexpected span timing %v..%v", spans[1].Start, spans[1].End)
	}

	for _, name := range []string{"utt-1.trans", "utt-1.logits"} {
		if _, err := os.Stat(filepath.Join(spool, name)); !os.IsNotExist(err) {
			t.Fatalf("%s still in spool after sweep", name)
		}
		if _, err := os.Stat(filepath.Join(spool, processedDir, name)); err != nil {
			t.Fatalf("%s not moved to processed: %v", name, err)
		}
	}
}

func TestSweepQuarantinesUndecodableFile(t *testing.T) {
	svc, store, _ := newTestService(t, false)
	spool := svc.cfg.SpoolDir

	if err := os.WriteFile(filepath.Join(spool, "bad.logits"), []byte{0x05, 0x80, 0xFF}, 0o644); err != nil {
		t.Fatalf("write spool file: %v", err)
	}

	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if _, err := os.Stat(filepath.Join(spool, "bad.logits.failed")); err != nil {
		t.Fatalf("bad file not quarantined: %v", err)
	}
	logits, err := store.RecentLogits(context.Background(), 10)
	if err != nil {
		t.Fatalf("query logits: %v", err)
	}
	if len(logits) != 0 {
		t.Fatalf("expected empty archive, got %d records", len(logits))
	}

	// Quarantined files must not be picked up again.
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if _, err := os.Stat(filepath.Join(spool, "bad.logits.failed")); err != nil {
		t.Fatalf("quarantined file disturbed: %v", err)
	}
}

func TestSweepDiscardsInvalidRecords(t *testing.T) {
	svc, store, _ := newTestService(t, false)
	spool := svc.cfg.SpoolDir

	// Record 0 contradicts its own shape; record 1 is fine. The bad record
	// is dropped, the stream continues and the file counts as processed.
	writeSpoolFile(t, filepath.Join(spool, "mixed.logits"),
		&decproto.Logits{Shape: []int64{2, 2}, Data: []float32{1, 2, 3}},
		&decproto.Logits{Shape: []int64{2}, Data: []float32{7, 8}},
	)

	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	logits, err := store.RecentLogits(context.Background(), 10)
	if err != nil {
		t.Fatalf("query logits: %v", err)
	}
	if len(logits) != 1 {
		t.Fatalf("expected 1 archived record, got %d", len(logits))
	}
	if logits[0].Record != 1 {
		t.Fatalf("expected record index 1, got %d", logits[0].Record)
	}
	if _, err := os.Stat(filepath.Join(spool, processedDir, "mixed.logits")); err != nil {
		t.Fatalf("file not moved to processed: %v", err)
	}
}

func TestSweepStrictOffsets(t *testing.T) {
	out := &decproto.Transcription{GreedyTrans: "ba", BeamTrans: "ab", BeamDecodedOffsets: []int64{4, 2}}

	svc, store, cs := newTestService(t, true)
	writeSpoolFile(t, filepath.Join(svc.cfg.SpoolDir, "x.trans"), out)
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	trans, err := store.RecentTranscriptions(context.Background(), 10)
	if err != nil {
		t.Fatalf("query transcriptions: %v", err)
	}
	if len(trans) != 0 {
		t.Fatalf("strict mode archived out-of-order offsets: %d records", len(trans))
	}
	if got := cs.count(); got != 0 {
		t.Fatalf("strict mode delivered rejected record %d times", got)
	}
	if _, err := os.Stat(filepath.Join(svc.cfg.SpoolDir, processedDir, "x.trans")); err != nil {
		t.Fatalf("file not moved to processed: %v", err)
	}

	// The same payload passes when strict ordering is off.
	svc, store, _ = newTestService(t, false)
	writeSpoolFile(t, filepath.Join(svc.cfg.SpoolDir, "x.trans"), out)
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	trans, err = store.RecentTranscriptions(context.Background(), 10)
	if err != nil {
		t.Fatalf("query transcriptions: %v", err)
	}
	if len(trans) != 1 {
		t.Fatalf("expected 1 archived transcription, got %d", len(trans))
	}
}

func TestSweepIgnoresForeignFiles(t *testing.T) {
	svc, _, cs := newTestService(t, false)
	spool := svc.cfg.SpoolDir

	for _, name := range []string{"partial.tmp", ".hidden.trans", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(spool, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	for _, name := range []string{"partial.tmp", ".hidden.trans", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(spool, name)); err != nil {
			t.Fatalf("%s disturbed by sweep: %v", name, err)
		}
	}
	if got := cs.count(); got != 0 {
		t.Fatalf("expected no deliveries, got %d", got)
	}
}

func TestSinkFailureDoesNotQuarantine(t *testing.T) {
	svc, store, cs := newTestService(t, false)
	cs.fail = true
	spool := svc.cfg.SpoolDir

	writeSpoolFile(t, filepath.Join(spool, "utt-2.trans"),
		&decproto.Transcription{GreedyTrans: "hi", BeamTrans: "hi"},
	)

	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	// Delivery is best effort; the record is archived and the file moves on.
	trans, err := store.RecentTranscriptions(context.Background(), 10)
	if err != nil {
		t.Fatalf("query transcriptions: %v", err)
	}
	if len(trans) != 1 {
		t.Fatalf("expected 1 archived transcription, got %d", len(trans))
	}
	if _, err := os.Stat(filepath.Join(spool, processedDir, "utt-2.trans")); err != nil {
		t.Fatalf("file not moved to processed: %v", err)
	}
}

func TestServiceLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !svc.Healthy() {
		t.Fatal("expected running service to be healthy")
	}
	svc.Close()
}

func TestServiceDisabled(t *testing.T) {
	dir := t.TempDir()
	store, err := archive.Open(context.Background(), config.ArchiveConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	cfg := config.IngestConfig{Enabled: false, SpoolDir: filepath.Join(dir, "spool")}
	svc := NewService(context.Background(), cfg, store, &captureSink{}, newLogger())
	defer svc.Close()

	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !svc.Healthy() {
		t.Fatal("disabled service should report healthy")
	}
	if _, err := os.Stat(cfg.SpoolDir); !os.IsNotExist(err) {
		t.Fatal("disabled service should not create the spool dir")
	}
}
