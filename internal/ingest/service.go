// Package ingest drains a spool directory of wire payloads dropped by the
// decoder service. Each file is a stream of length-delimited records; they
// are decoded, validated, archived and forwarded to the sink. Producers are
// expected to write elsewhere and rename into the spool, so dotfiles and
// unknown extensions are ignored.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/trinhtuanvubk/decwire/align"
	"github.com/trinhtuanvubk/decwire/decproto"
	"github.com/trinhtuanvubk/decwire/internal/archive"
	"github.com/trinhtuanvubk/decwire/internal/config"
	"github.com/trinhtuanvubk/decwire/internal/sink"
	"github.com/trinhtuanvubk/decwire/validate"
)

const (
	extLogits        = ".logits"
	extTranscription = ".trans"
	processedDir     = "processed"
	failedSuffix     = ".failed"

	meterName = "github.com/trinhtuanvubk/decwire/ingest"
)

type Service struct {
	cfg    config.IngestConfig
	log    *slog.Logger
	store  *archive.Store
	sink   sink.Sink
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  bool

	tracer       trace.Tracer
	filesTotal   metric.Int64Counter
	recordsTotal metric.Int64Counter
	bytesTotal   metric.Int64Counter
	sinkErrors   metric.Int64Counter
	fileSeconds  metric.Float64Histogram
}

func NewService(parent context.Context, cfg config.IngestConfig, store *archive.Store, deliver sink.Sink, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:    cfg,
		log:    log.With(slog.String("component", "ingest")),
		store:  store,
		sink:   deliver,
		ctx:    ctx,
		cancel: cancel,
		tracer: otel.Tracer(meterName),
	}
	if err := s.initMetrics(); err != nil {
		s.log.Warn("failed to initialize metrics", slogError(err))
	}
	return s
}

func (s *Service) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error
	if s.filesTotal, err = meter.Int64Counter("decwire.ingest.files",
		metric.WithDescription("Spool files processed")); err != nil {
		return err
	}
	if s.recordsTotal, err = meter.Int64Counter("decwire.ingest.records",
		metric.WithDescription("Records decoded from spool files")); err != nil {
		return err
	}
	if s.bytesTotal, err = meter.Int64Counter("decwire.ingest.bytes",
		metric.WithDescription("Spool bytes drained"),
		metric.WithUnit("By")); err != nil {
		return err
	}
	if s.sinkErrors, err = meter.Int64Counter("decwire.ingest.sink.errors",
		metric.WithDescription("Failed sink deliveries")); err != nil {
		return err
	}
	if s.fileSeconds, err = meter.Float64Histogram("decwire.ingest.file.duration",
		metric.WithDescription("Time to drain one spool file"),
		metric.WithUnit("s")); err != nil {
		return err
	}
	return nil
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if err := os.MkdirAll(s.cfg.SpoolDir, 0o755); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(s.cfg.SpoolDir, processedDir), 0o755); err != nil {
		return fmt.Errorf("create processed dir: %w", err)
	}
	s.wg.Add(1)
	go s.run()
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.cfg.PollIntervalMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(s.ctx); err != nil {
				s.log.Warn("spool sweep failed", slogError(err))
			}
		}
	}
}

// Sweep processes every payload file currently in the spool directory and
// returns once all of them are handled. The poll loop calls it on a timer;
// tests and the CLI can call it directly for a single synchronous pass.
func (s *Service) Sweep(ctx context.Context) error {
	entries, err := os.ReadDir(s.cfg.SpoolDir)
	if err != nil {
		return fmt.Errorf("read spool dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		switch filepath.Ext(name) {
		case extLogits, extTranscription:
			files = append(files, filepath.Join(s.cfg.SpoolDir, name))
		}
	}
	if len(files) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, path := range files {
		g.Go(func() error {
			// A bad file is quarantined, not allowed to abort its siblings.
			s.processFile(ctx, path)
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) processFile(ctx context.Context, path string) {
	name := filepath.Base(path)
	kind := strings.TrimPrefix(filepath.Ext(name), ".")
	ctx, span := s.tracer.Start(ctx, "ingest.file",
		trace.WithAttributes(attribute.String("file", name), attribute.String("kind", kind)))
	defer span.End()

	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}

	start := time.Now()
	archived, rejected, err := s.drainFile(ctx, path)
	s.fileSeconds.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
	s.recordsTotal.Add(ctx, int64(archived), metric.WithAttributes(
		attribute.String("kind", kind), attribute.String("result", "ok")))
	s.recordsTotal.Add(ctx, int64(rejected), metric.WithAttributes(
		attribute.String("kind", kind), attribute.String("result", "invalid")))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "spool file aborted")
		s.filesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind), attribute.String("result", "failed")))
		s.log.Warn("spool file aborted", slog.String("file", name), slog.Int("archived", archived), slogError(err))
		if renameErr := os.Rename(path, path+failedSuffix); renameErr != nil {
			s.log.Warn("failed to quarantine spool file", slog.String("file", name), slogError(renameErr))
		}
		return
	}

	s.filesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind), attribute.String("result", "ok")))
	s.bytesTotal.Add(ctx, size, metric.WithAttributes(attribute.String("kind", kind)))
	if err := os.Rename(path, filepath.Join(s.cfg.SpoolDir, processedDir, name)); err != nil {
		s.log.Warn("failed to move processed file", slog.String("file", name), slogError(err))
		return
	}
	s.log.Info("spool file archived",
		slog.String("file", name), slog.Int("archived", archived), slog.Int("rejected", rejected))
}

// drainFile decodes every record in one spool file. Records that decode but
// fail validation are logged and dropped; the stream continues. A framing or
// decode error aborts the file since nothing after it can be trusted.
func (s *Service) drainFile(ctx context.Context, path string) (archived, rejected int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open spool file: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	r := decproto.NewReader(f)
	r.SetMaxMessageSize(s.cfg.MaxMessageMB << 20)

	idx := 0
	switch filepath.Ext(name) {
	case extLogits:
		for ; ; idx++ {
			var m decproto.Logits
			if err := r.Next(&m); err == io.EOF {
				return archived, rejected, nil
			} else if err != nil {
				return archived, rejected, fmt.Errorf("record %d: %w", idx, err)
			}
			if err := validate.Logits(&m); err != nil {
				rejected++
				s.log.Warn("record rejected", slog.String("file", name), slog.Int("record", idx), slogError(err))
				continue
			}
			if err := s.store.AppendLogits(ctx, name, idx, &m); err != nil {
				return archived, rejected, fmt.Errorf("archive record %d: %w", idx, err)
			}
			archived++
		}
	case extTranscription:
		check := validate.Transcription
		if s.cfg.StrictOffsets {
			check = validate.TranscriptionStrict
		}
		for ; ; idx++ {
			var m decproto.Transcription
			if err := r.Next(&m); err == io.EOF {
				return archived, rejected, nil
			} else if err != nil {
				return archived, rejected, fmt.Errorf("record %d: %w", idx, err)
			}
			if err := check(&m); err != nil {
				rejected++
				s.log.Warn("record rejected", slog.String("file", name), slog.Int("record", idx), slogError(err))
				continue
			}
			if err := s.store.AppendTranscription(ctx, name, idx, &m); err != nil {
				return archived, rejected, fmt.Errorf("archive record %d: %w", idx, err)
			}
			if err := s.sink.Deliver(ctx, sink.Delivery{
				Source:        name,
				ReceivedAt:    time.Now().UTC(),
				Transcription: &m,
				Spans:         s.alignSpans(&m),
			}); err != nil {
				s.sinkErrors.Add(ctx, 1)
				s.log.Warn("sink delivery failed", slog.String("file", name), slogError(err))
			}
			archived++
		}
	}
	return 0, 0, fmt.Errorf("unsupported spool file %q", name)
}

// alignSpans attributes each rune of the beam output to a time range. Not
// every model emits one offset per rune; when the counts disagree the
// delivery simply goes out without spans.
func (s *Service) alignSpans(m *decproto.Transcription) []align.Span {
	text := m.BeamTrans
	if text == "" {
		text = m.GreedyTrans
	}
	stride := time.Duration(s.cfg.FrameStrideMS) * time.Millisecond
	spans, err := align.Spans(text, m.BeamDecodedOffsets, stride)
	if err != nil {
		s.log.Debug("span alignment skipped", slogError(err))
		return nil
	}
	return spans
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
