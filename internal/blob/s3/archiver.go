package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/foldmarkets/settld/internal/domain"
)

// BlobWriter is the narrow upload surface the archiver needs. The Writer in
// this package satisfies it; tests substitute an in-memory fake.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// TradeArchiveStore provides read access to trades for archival purposes.
type TradeArchiveStore interface {
	// ListBefore returns all trades recorded strictly before the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

const (
	defaultInterval  = time.Hour
	defaultRetention = 30 * 24 * time.Hour

	// multipartThreshold is the serialized batch size above which the
	// archiver switches to multipart upload.
	multipartThreshold = 8 * 1024 * 1024
)

// Archiver periodically drains settled trade records older than the
// retention window into JSONL batches on object storage. Deletion of the
// archived records from the primary store is intentionally not performed
// here; that is a separate, explicit step executed after the archive has
// been verified.
type Archiver struct {
	writer    BlobWriter
	trades    TradeArchiveStore
	logger    *slog.Logger
	now       func() time.Time
	interval  time.Duration
	retention time.Duration
}

// NewArchiver creates an Archiver with a one-hour cadence and a thirty-day
// retention window.
func NewArchiver(writer BlobWriter, trades TradeArchiveStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		trades:    trades,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
		interval:  defaultInterval,
		retention: defaultRetention,
	}
}

// WithInterval overrides how often the archiver wakes up.
func (a *Archiver) WithInterval(d time.Duration) *Archiver {
	if d > 0 {
		a.interval = d
	}
	return a
}

// WithRetention overrides how old a trade must be before it is archived.
func (a *Archiver) WithRetention(d time.Duration) *Archiver {
	if d > 0 {
		a.retention = d
	}
	return a
}

// WithClock overrides the time source.
func (a *Archiver) WithClock(now func() time.Time) *Archiver {
	a.now = now
	return a
}

// Run archives on a fixed cadence until the context is cancelled. A failed
// cycle is logged and retried on the next tick.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := a.now().Add(-a.retention)
			count, err := a.ArchiveTrades(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive cycle failed", slog.Any("error", err))
				continue
			}
			if count > 0 {
				a.logger.InfoContext(ctx, "archived trades",
					slog.Int64("count", count),
					slog.Time("before", cutoff))
			}
		}
	}
}

// ArchiveTrades queries all trades before the cutoff, serializes them to
// JSONL, and uploads the batch at archive/trades/YYYY-MM.jsonl. The count of
// archived records is returned.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	return int64(len(trades)), nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element becomes one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
