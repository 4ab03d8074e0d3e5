package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/venuebot/internal/domain"
)

// archiveBatchSize caps how many rows one export object holds.
const archiveBatchSize = 1000

// Archiver periodically exports closed positions and fee events older than
// the retention window to cold storage as JSONL objects.
type Archiver struct {
	positions domain.PositionStore
	fees      domain.FeeEventStore
	writer    domain.BlobWriter

	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(positions domain.PositionStore, fees domain.FeeEventStore, writer domain.BlobWriter, retentionDays, intervalHours int, logger *slog.Logger) *Archiver {
	return &Archiver{
		positions: positions,
		fees:      fees,
		writer:    writer,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  time.Duration(intervalHours) * time.Hour,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run archives once immediately, then on every interval tick until the
// context is cancelled. A failed cycle is logged and retried on the next
// tick rather than stopping the loop.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.archive(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.archive(ctx)
		}
	}
}

func (a *Archiver) archive(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-a.retention)

	if err := a.archivePositions(ctx, cutoff); err != nil {
		a.logger.ErrorContext(ctx, "position archive failed", slog.String("error", err.Error()))
	}
	if err := a.archiveFees(ctx, cutoff); err != nil {
		a.logger.ErrorContext(ctx, "fee archive failed", slog.String("error", err.Error()))
	}
}

func (a *Archiver) archivePositions(ctx context.Context, cutoff time.Time) error {
	offset := 0
	for {
		batch, err := a.positions.ListClosedBefore(ctx, cutoff, domain.ListOpts{
			Limit:  archiveBatchSize,
			Offset: offset,
		})
		if err != nil {
			return fmt.Errorf("s3blob: list closed positions: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		body, err := encodeJSONL(batch)
		if err != nil {
			return err
		}
		key := archiveKey("positions", cutoff, offset)
		if err := a.writer.Write(ctx, key, body, "application/x-ndjson"); err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "archived positions",
			slog.String("key", key), slog.Int("count", len(batch)))

		if len(batch) < archiveBatchSize {
			return nil
		}
		offset += len(batch)
	}
}

func (a *Archiver) archiveFees(ctx context.Context, cutoff time.Time) error {
	offset := 0
	for {
		batch, err := a.fees.ListBefore(ctx, cutoff, domain.ListOpts{
			Limit:  archiveBatchSize,
			Offset: offset,
		})
		if err != nil {
			return fmt.Errorf("s3blob: list fee events: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		body, err := encodeJSONL(batch)
		if err != nil {
			return err
		}
		key := archiveKey("fees", cutoff, offset)
		if err := a.writer.Write(ctx, key, body, "application/x-ndjson"); err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "archived fee events",
			slog.String("key", key), slog.Int("count", len(batch)))

		if len(batch) < archiveBatchSize {
			return nil
		}
		offset += len(batch)
	}
}

// archiveKey builds a deterministic object key so a rerun of the same cycle
// overwrites rather than duplicates.
func archiveKey(kind string, cutoff time.Time, offset int) string {
	return fmt.Sprintf("archive/%s/%s/batch-%06d.jsonl", kind, cutoff.Format("2006/01/02"), offset)
}

// encodeJSONL marshals each record to one JSON line.
func encodeJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("s3blob: encode record: %w", err)
		}
	}
	return buf.Bytes(), nil
}
