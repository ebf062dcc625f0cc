package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/betchannel/internal/domain"
)

// BetArchiveStore is the read access the archiver needs from the ledger.
// domain.SessionStore satisfies it.
type BetArchiveStore interface {
	// ListSettledBetsBefore returns settled bets created before the cutoff,
	// oldest first, capped at limit.
	ListSettledBetsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.SessionBet, error)
}

// multipartThreshold is the payload size above which uploads switch to the
// multipart manager.
const multipartThreshold = 5 * 1024 * 1024

// Archiver exports settled bets to object storage as JSONL batches. It only
// reads from the ledger; deleting archived rows is a separate, explicit
// operation executed after the archive has been verified.
type Archiver struct {
	writer    *Writer
	store     BetArchiveStore
	batchSize int
	logger    *slog.Logger
}

// NewArchiver creates an Archiver that reads batches of batchSize bets.
func NewArchiver(writer *Writer, store BetArchiveStore, batchSize int, logger *slog.Logger) *Archiver {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Archiver{
		writer:    writer,
		store:     store,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "bet_archiver")),
	}
}

// ArchiveSettledBets uploads all settled bets placed before the cutoff, in
// batches, to archive/bets/<cutoff-month>/<timestamp>-<n>.jsonl. It returns
// the number of bets archived.
func (a *Archiver) ArchiveSettledBets(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	runStamp := time.Now().UTC().Format("20060102T150405")

	for batch := 0; ; batch++ {
		// The store pages oldest-first with a limit but no offset, so each
		// round widens the limit and slices past what is already uploaded.
		bets, err := a.store.ListSettledBetsBefore(ctx, before, int(total)+a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive bets query: %w", err)
		}
		if int64(len(bets)) <= total {
			break
		}
		bets = bets[total:]

		buf, err := marshalJSONL(bets)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive bets marshal: %w", err)
		}

		path := fmt.Sprintf("archive/bets/%s/%s-%03d.jsonl", before.Format("2006-01"), runStamp, batch)
		if len(buf) > multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
		}
		if err != nil {
			return total, fmt.Errorf("s3blob: archive bets upload: %w", err)
		}

		total += int64(len(bets))
		a.logger.InfoContext(ctx, "archived settled bets batch",
			slog.String("path", path),
			slog.Int("count", len(bets)),
		)

		if len(bets) < a.batchSize {
			break
		}
	}

	return total, nil
}

// Run archives on the given interval until ctx is cancelled. retention
// controls how far back the cutoff sits behind now.
func (a *Archiver) Run(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			count, err := a.ArchiveSettledBets(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "bet archive run failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if count > 0 {
				a.logger.InfoContext(ctx, "bet archive run complete",
					slog.Int64("archived", count),
				)
			}
		}
	}
}

// marshalJSONL serialises records as newline-delimited JSON.
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
