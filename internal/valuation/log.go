// Package valuation computes per-tick portfolio value records and appends
// them to the per-strategy valuation log.
package valuation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/DfiLabs/dfi-admin-panel/internal/domain"
	"github.com/DfiLabs/dfi-admin-panel/internal/store"
)

// Log wraps the append-only JSONL valuation log for one strategy. The
// object store has no append primitive, so every append is a full
// read-modify-write of the object.
type Log struct {
	store store.ObjectStore
	key   string
	log   zerolog.Logger
}

// NewLog creates a log wrapper for the object at key.
func NewLog(s store.ObjectStore, key string, log zerolog.Logger) *Log {
	return &Log{
		store: s,
		key:   key,
		log:   log.With().Str("component", "valuation_log").Str("key", key).Logger(),
	}
}

// Key returns the object key of the underlying log.
func (l *Log) Key() string { return l.key }

// Read returns all parseable records in file order. Malformed lines are
// skipped with a warning so one corrupt line cannot take out the whole log.
func (l *Log) Read(ctx context.Context) ([]domain.ValuationRecord, error) {
	body, err := l.store.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read valuation log: %w", err)
	}
	return l.parse(body), nil
}

// Tail returns at most n most recent records.
func (l *Log) Tail(ctx context.Context, n int) ([]domain.ValuationRecord, error) {
	records, err := l.Read(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

// Last returns the most recent record, or nil if the log is empty.
func (l *Log) Last(ctx context.Context) (*domain.ValuationRecord, error) {
	records, err := l.Read(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[len(records)-1], nil
}

// Append adds a record to the end of the log. Appends are rejected when the
// record's timestamp is not strictly after the last record, which keeps the
// log monotonic even if two writers race on the read-modify-write.
func (l *Log) Append(ctx context.Context, rec *domain.ValuationRecord) error {
	body, err := l.store.Get(ctx, l.key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to read valuation log before append: %w", err)
	}

	records := l.parse(body)
	if len(records) > 0 {
		last := records[len(records)-1]
		if !rec.Timestamp.After(last.Timestamp) {
			return fmt.Errorf("record at %s is not after last record at %s",
				rec.Timestamp.Format("2006-01-02T15:04:05Z"),
				last.Timestamp.Format("2006-01-02T15:04:05Z"))
		}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode valuation record: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(line) + 1)
	buf.Write(body)
	if len(body) > 0 && body[len(body)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.Write(line)
	buf.WriteByte('\n')

	if err := l.store.Put(ctx, l.key, buf.Bytes(), store.ContentTypeJSONL); err != nil {
		return fmt.Errorf("failed to write valuation log: %w", err)
	}
	return nil
}

func (l *Log) parse(body []byte) []domain.ValuationRecord {
	if len(body) == 0 {
		return nil
	}
	var records []domain.ValuationRecord
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec domain.ValuationRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			l.log.Warn().Err(err).Int("line", lineNo).Msg("Skipping malformed log line")
			continue
		}
		records = append(records, rec)
	}
	return records
}
