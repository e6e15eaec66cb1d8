// Package archive persists decoded messages in a local SQLite database so
// transcripts survive restarts and can be listed, exported and pruned.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/trinhtuanvubk/decwire/decproto"
	"github.com/trinhtuanvubk/decwire/internal/config"
	_ "modernc.org/sqlite"
)

// TranscriptionRecord is one archived transcription. Payload holds the
// canonical wire encoding; the text columns are denormalized for listing.
// Record is the index of the message within its source file.
type TranscriptionRecord struct {
	ID        int64
	Source    string
	Record    int
	Greedy    string
	Beam      string
	Offsets   string
	Payload   []byte
	CreatedAt time.Time
}

// Decode returns the archived message.
func (r TranscriptionRecord) Decode() (*decproto.Transcription, error) {
	var m decproto.Transcription
	if err := m.UnmarshalBinary(r.Payload); err != nil {
		return nil, err
	}
	return &m, nil
}

// LogitsRecord is one archived tensor. Payload holds the canonical wire
// encoding; Shape and Elements describe it without decoding.
type LogitsRecord struct {
	ID        int64
	Source    string
	Record    int
	Shape     string
	Elements  int64
	Payload   []byte
	CreatedAt time.Time
}

// Decode returns the archived message.
func (r LogitsRecord) Decode() (*decproto.Logits, error) {
	var m decproto.Logits
	if err := m.UnmarshalBinary(r.Payload); err != nil {
		return nil, err
	}
	return &m, nil
}

// Store wraps a SQLite-backed message archive.
type Store struct {
	db    *sql.DB
	cfg   config.ArchiveConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the archive according to config. In ephemeral mode no
// database is opened and every write is a no-op.
func Open(ctx context.Context, cfg config.ArchiveConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("archive vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("archive prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS transcriptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT,
    record INTEGER NOT NULL DEFAULT 0,
    greedy_trans TEXT,
    beam_trans TEXT,
    offsets TEXT,
    payload BLOB,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_created ON transcriptions(created_at);
CREATE TABLE IF NOT EXISTS logits (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT,
    record INTEGER NOT NULL DEFAULT 0,
    shape TEXT,
    elements INTEGER,
    payload BLOB,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logits_created ON logits(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ensure verifies the store matches its retention mode.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral archive should not have database connection")
	}
	return nil
}

// AppendTranscription archives m under the canonical wire encoding. record
// is the index of the message within its source file.
func (s *Store) AppendTranscription(ctx context.Context, source string, record int, m *decproto.Transcription) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	payload, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode transcription: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transcriptions(source, record, greedy_trans, beam_trans, offsets, payload, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		source, record, m.GreedyTrans, m.BeamTrans, offsetsLabel(m.BeamDecodedOffsets), payload, s.clock().UTC())
	return err
}

// AppendLogits archives m under the canonical wire encoding. record is the
// index of the message within its source file.
func (s *Store) AppendLogits(ctx context.Context, source string, record int, m *decproto.Logits) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	payload, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode logits: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO logits(source, record, shape, elements, payload, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		source, record, shapeLabel(m.Shape), int64(len(m.Data)), payload, s.clock().UTC())
	return err
}

// RecentTranscriptions returns up to limit records, newest first.
func (s *Store) RecentTranscriptions(ctx context.Context, limit int) ([]TranscriptionRecord, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, record, greedy_trans, beam_trans, offsets, payload, created_at
		 FROM transcriptions ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TranscriptionRecord
	for rows.Next() {
		var r TranscriptionRecord
		var created string
		if err := rows.Scan(&r.ID, &r.Source, &r.Record, &r.Greedy, &r.Beam, &r.Offsets, &r.Payload, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecentLogits returns up to limit records, newest first.
func (s *Store) RecentLogits(ctx context.Context, limit int) ([]LogitsRecord, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, record, shape, elements, payload, created_at
		 FROM logits ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []LogitsRecord
	for rows.Next() {
		var r LogitsRecord
		var created string
		if err := rows.Scan(&r.ID, &r.Source, &r.Record, &r.Shape, &r.Elements, &r.Payload, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// TranscriptionByID fetches one archived transcription with its payload.
func (s *Store) TranscriptionByID(ctx context.Context, id int64) (TranscriptionRecord, error) {
	var r TranscriptionRecord
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return r, fmt.Errorf("no transcription record %d", id)
	}
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source, record, greedy_trans, beam_trans, offsets, payload, created_at
		 FROM transcriptions WHERE id = ?`, id).
		Scan(&r.ID, &r.Source, &r.Record, &r.Greedy, &r.Beam, &r.Offsets, &r.Payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("no transcription record %d", id)
	}
	if err != nil {
		return r, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		r.CreatedAt = ts
	}
	return r, nil
}

// LogitsByID fetches one archived tensor with its payload.
func (s *Store) LogitsByID(ctx context.Context, id int64) (LogitsRecord, error) {
	var r LogitsRecord
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return r, fmt.Errorf("no logits record %d", id)
	}
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source, record, shape, elements, payload, created_at
		 FROM logits WHERE id = ?`, id).
		Scan(&r.ID, &r.Source, &r.Record, &r.Shape, &r.Elements, &r.Payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("no logits record %d", id)
	}
	if err != nil {
		return r, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		r.CreatedAt = ts
	}
	return r, nil
}

// Prune applies configured retention to both tables.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM transcriptions WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM logits WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRecords > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM transcriptions WHERE id IN (
			SELECT id FROM transcriptions ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRecords); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM logits WHERE id IN (
			SELECT id FROM logits ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRecords); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func shapeLabel(shape []int64) string {
	if len(shape) == 0 {
		return ""
	}
	var b strings.Builder
	for i, d := range shape {
		if i > 0 {
			b.WriteByte('x')
		}
		b.WriteString(strconv.FormatInt(d, 10))
	}
	return b.String()
}

func offsetsLabel(offsets []int64) string {
	if len(offsets) == 0 {
		return ""
	}
	var b strings.Builder
	for i, off := range offsets {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(off, 10))
	}
	return b.String()
}
