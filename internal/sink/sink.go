// Package sink forwards archived transcriptions to a configured
// destination: a JSONL file or an external command fed on stdin.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/trinhtuanvubk/decwire/align"
	"github.com/trinhtuanvubk/decwire/decproto"
	"github.com/trinhtuanvubk/decwire/internal/config"
)

// Delivery is one forwarded transcription with its provenance. Spans is
// present when the offsets align rune for rune with the decoded text.
type Delivery struct {
	Source        string                  `json:"source"`
	ReceivedAt    time.Time               `json:"received_at"`
	Transcription *decproto.Transcription `json:"transcription"`
	Spans         []align.Span            `json:"spans,omitempty"`
}

// Sink abstracts delivery targets.
type Sink interface {
	Deliver(ctx context.Context, d Delivery) error
	Close() error
}

// New builds the sink selected by config.
func New(cfg config.SinkConfig) (Sink, error) {
	switch cfg.Mode {
	case "", "none":
		return &nopSink{}, nil
	case "file":
		return newFileSink(cfg.Path)
	case "exec":
		return newExecSink(cfg)
	default:
		return nil, fmt.Errorf("unknown sink mode %q", cfg.Mode)
	}
}

type nopSink struct{}

func (n *nopSink) Deliver(context.Context, Delivery) error { return nil }
func (n *nopSink) Close() error                            { return nil }

type fileSink struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

func newFileSink(path string) (Sink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink file: %w", err)
	}
	return &fileSink{f: f, enc: json.NewEncoder(f)}, nil
}

func (s *fileSink) Deliver(_ context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(d); err != nil {
		return fmt.Errorf("write sink record: %w", err)
	}
	return nil
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

type execSink struct {
	cmd     []string
	timeout time.Duration
	mu      sync.Mutex
}

func newExecSink(cfg config.SinkConfig) (Sink, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse sink command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("sink command empty")
	}
	return &execSink{cmd: args, timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}, nil
}

func (s *execSink) Deliver(ctx context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	base := s.cmd[0]
	args := append([]string{}, s.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sink command failed: %w: %s", err, stderr.String())
	}
	return nil
}

func (s *execSink) Close() error { return nil }
