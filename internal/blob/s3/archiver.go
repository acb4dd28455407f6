package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

const (
	archivePage      = 500
	archiveMediaType = "application/x-ndjson"
)

// ArchiveSource is the read side the archiver exports from.
type ArchiveSource interface {
	ListTargetTrades(ctx context.Context, opts domain.ListOpts) ([]domain.TargetTrade, error)
	ListPaperTrades(ctx context.Context, opts domain.ListOpts) ([]domain.PaperTrade, error)
	ListBookSnapshots(ctx context.Context, opts domain.ListOpts) ([]domain.BookSnapshot, error)
	ListPositions(ctx context.Context, opts domain.ListOpts) ([]domain.PositionView, error)
}

// Archiver exports one UTC day of history to object storage as JSONL, one
// object per kind at archive/<kind>/YYYY-MM-DD.jsonl. Positions are exported
// whole as the end-of-run snapshot. Nothing is deleted from the store.
type Archiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	source    ArchiveSource
	overwrite bool
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. When reader is set and overwrite is
// false, kinds whose object already exists are skipped.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, source ArchiveSource, overwrite bool, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		reader:    reader,
		source:    source,
		overwrite: overwrite,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveDay exports the records created on day's UTC date.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (domain.ArchiveResult, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	var res domain.ArchiveResult

	trades, err := collect(ctx, a.source.ListTargetTrades, &start, &end)
	if err != nil {
		return res, fmt.Errorf("s3blob: archive target trades: %w", err)
	}
	if res.TargetTrades, err = a.upload(ctx, "target_trades", start, mapSlice(trades, newTargetTradeRecord)); err != nil {
		return res, err
	}

	papers, err := collect(ctx, a.source.ListPaperTrades, &start, &end)
	if err != nil {
		return res, fmt.Errorf("s3blob: archive paper trades: %w", err)
	}
	if res.PaperTrades, err = a.upload(ctx, "paper_trades", start, mapSlice(papers, newPaperTradeRecord)); err != nil {
		return res, err
	}

	snaps, err := collect(ctx, a.source.ListBookSnapshots, &start, &end)
	if err != nil {
		return res, fmt.Errorf("s3blob: archive snapshots: %w", err)
	}
	if res.Snapshots, err = a.upload(ctx, "snapshots", start, mapSlice(snaps, newSnapshotRecord)); err != nil {
		return res, err
	}

	positions, err := collect(ctx, a.source.ListPositions, nil, nil)
	if err != nil {
		return res, fmt.Errorf("s3blob: archive positions: %w", err)
	}
	if res.Positions, err = a.upload(ctx, "positions", start, mapSlice(positions, newPositionRecord)); err != nil {
		return res, err
	}

	a.logger.InfoContext(ctx, "archive complete",
		slog.String("day", start.Format(time.DateOnly)),
		slog.Int64("target_trades", res.TargetTrades),
		slog.Int64("paper_trades", res.PaperTrades),
		slog.Int64("snapshots", res.Snapshots),
		slog.Int64("positions", res.Positions),
	)
	return res, nil
}

func (a *Archiver) upload(ctx context.Context, kind string, day time.Time, records []any) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	path := archivePath(kind, day)
	if a.reader != nil && !a.overwrite {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if exists {
			a.logger.InfoContext(ctx, "archive object exists, skipping", slog.String("path", path))
			return 0, nil
		}
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), archiveMediaType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	return int64(len(records)), nil
}

// collect pages through list in ascending id order.
func collect[T any](ctx context.Context, list func(context.Context, domain.ListOpts) ([]T, error), since, until *time.Time) ([]T, error) {
	var out []T
	for offset := 0; ; offset += archivePage {
		page, err := list(ctx, domain.ListOpts{Limit: archivePage, Offset: offset, Since: since, Until: until})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < archivePage {
			break
		}
	}
	slices.Reverse(out)
	return out, nil
}

func mapSlice[T any](in []T, f func(T) any) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = f(v)
	}
	return out
}

// archivePath builds the object key, e.g. archive/paper_trades/2025-01-31.jsonl.
func archivePath(kind string, day time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, day.UTC().Format(time.DateOnly))
}

// marshalJSONL writes one compact JSON document per line.
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
