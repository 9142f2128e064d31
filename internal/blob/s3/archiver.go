package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// archivedSnapshot is the JSON document written per evaluated cycle.
type archivedSnapshot struct {
	Snapshot domain.BookSnapshot `json:"snapshot"`
	Metrics  domain.BookMetrics  `json:"metrics"`
}

// Archiver implements domain.SnapshotArchiver and exports per-session
// metrics as JSON lines.
type Archiver struct {
	writer  domain.BlobWriter
	metrics domain.MetricsStore
	prefix  string
}

// NewArchiver creates an Archiver writing under prefix. metrics may be nil
// when session exports are not needed.
func NewArchiver(writer domain.BlobWriter, metrics domain.MetricsStore, prefix string) *Archiver {
	return &Archiver{writer: writer, metrics: metrics, prefix: prefix}
}

// SnapshotKey returns prefix/snapshots/{instrument}/{date}/{time}.json in UTC.
func SnapshotKey(prefix, instrument string, ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("%ssnapshots/%s/%s/%s.json", prefix, instrument, ts.Format(time.DateOnly), ts.Format("150405.000"))
}

// MetricsKey returns prefix/metrics/{instrument}/{date}.jsonl.gz.
func MetricsKey(prefix, instrument string, day time.Time) string {
	return fmt.Sprintf("%smetrics/%s/%s.jsonl.gz", prefix, instrument, day.UTC().Format(time.DateOnly))
}

// ArchiveSnapshot uploads the book and metrics of one cycle and returns the
// object key.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, snap domain.BookSnapshot, m domain.BookMetrics) (string, error) {
	data, err := json.Marshal(archivedSnapshot{Snapshot: snap, Metrics: m})
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal snapshot %s: %w", snap.Instrument, err)
	}
	key := SnapshotKey(a.prefix, snap.Instrument, snap.Timestamp)
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", err
	}
	return key, nil
}

// ExportMetrics streams one day of metrics for instrument to object storage
// as gzip-compressed JSON lines. It returns the key and the number of records written; zero
// records writes nothing.
func (a *Archiver) ExportMetrics(ctx context.Context, instrument string, day time.Time) (string, int, error) {
	if a.metrics == nil {
		return "", 0, fmt.Errorf("s3blob: export metrics: no metrics store")
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	records, err := a.metrics.ListRange(ctx, instrument, domain.ListOpts{Since: &start, Until: &end})
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: export metrics %s: %w", instrument, err)
	}
	if len(records) == 0 {
		return "", 0, nil
	}

	pr, pw := io.Pipe()
	go func() {
		zw := gzip.NewWriter(pw)
		enc := json.NewEncoder(zw)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(zw.Close())
	}()

	key := MetricsKey(a.prefix, instrument, start)
	if err := a.writer.PutMultipart(ctx, key, pr, minPartSize); err != nil {
		pr.CloseWithError(err)
		return "", 0, err
	}
	return key, len(records), nil
}

// Compile-time interface check.
var _ domain.SnapshotArchiver = (*Archiver)(nil)
