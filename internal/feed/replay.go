package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// replayColumns is the header every replay file must carry. Empty cells are
// read as zero.
var replayColumns = []string{
	"time", "instrument", "type", "price", "quantity",
	"bid_price", "bid_size", "ask_price", "ask_size",
}

// ReplaySink consumes replayed ticks. Flush is called once with the last
// tick time so pending evaluation boundaries still run.
type ReplaySink interface {
	HandleTick(ctx context.Context, tick domain.Tick) error
	Flush(ctx context.Context, ts time.Time)
}

// ReplayStats summarises a finished replay.
type ReplayStats struct {
	Rows      int
	Delivered int
	Rejected  int
	First     time.Time
	Last      time.Time
}

// ReplayFeed streams recorded tick files through a sink. The path is either
// a local file, an "s3://key" resolved through the blob reader, or an
// "s3://prefix/" whose objects are replayed one after another in key order.
// A ".gz" suffix selects gzip decompression per file.
type ReplayFeed struct {
	path   string
	speed  float64
	blobs  domain.BlobReader
	sink   ReplaySink
	logger *slog.Logger

	stats ReplayStats
}

// NewReplayFeed creates a replay. speed 0 replays as fast as possible; speed
// 1 keeps the recorded pacing; speed 10 plays ten times faster.
func NewReplayFeed(path string, speed float64, blobs domain.BlobReader, sink ReplaySink, logger *slog.Logger) *ReplayFeed {
	return &ReplayFeed{
		path:   path,
		speed:  speed,
		blobs:  blobs,
		sink:   sink,
		logger: logger.With(slog.String("component", "replay_feed")),
	}
}

// Run replays every source file and returns when they are exhausted or ctx is
// cancelled.
func (f *ReplayFeed) Run(ctx context.Context) error {
	paths, err := f.sources(ctx)
	if err != nil {
		return err
	}
	f.logger.Info("replay started",
		slog.String("path", f.path),
		slog.Int("files", len(paths)),
		slog.Float64("speed", f.speed),
	)

	var (
		stats ReplayStats
		prev  time.Time
	)
	for _, p := range paths {
		if err = f.replayFile(ctx, p, &stats, &prev); err != nil {
			break
		}
	}
	if err == nil && !stats.Last.IsZero() {
		f.sink.Flush(ctx, stats.Last)
	}
	f.stats = stats
	f.logger.Info("replay finished",
		slog.Int("rows", stats.Rows),
		slog.Int("delivered", stats.Delivered),
		slog.Int("rejected", stats.Rejected),
		slog.Time("first", stats.First),
		slog.Time("last", stats.Last),
	)
	return err
}

// Stats returns the summary of the last Run.
func (f *ReplayFeed) Stats() ReplayStats { return f.stats }

// sources expands the configured path into the files to replay.
func (f *ReplayFeed) sources(ctx context.Context) ([]string, error) {
	key, ok := strings.CutPrefix(f.path, "s3://")
	if !ok {
		return []string{f.path}, nil
	}
	if f.blobs == nil {
		return nil, fmt.Errorf("feed/replay: %s requires s3 to be configured", f.path)
	}
	if !strings.HasSuffix(key, "/") {
		return []string{f.path}, nil
	}
	infos, err := f.blobs.List(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("feed/replay: list %s: %w", f.path, err)
	}
	paths := make([]string, 0, len(infos))
	for _, info := range infos {
		if strings.HasSuffix(info.Path, "/") {
			continue
		}
		paths = append(paths, "s3://"+info.Path)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("feed/replay: no objects under %s: %w", f.path, domain.ErrNotFound)
	}
	slices.Sort(paths)
	return paths, nil
}

func (f *ReplayFeed) open(ctx context.Context, path string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	if key, ok := strings.CutPrefix(path, "s3://"); ok {
		r, err := f.blobs.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("feed/replay: open %s: %w", path, err)
		}
		rc = r
	} else {
		fh, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("feed/replay: open %s: %w", path, err)
		}
		rc = fh
	}
	if !strings.HasSuffix(path, ".gz") {
		return rc, nil
	}
	zr, err := gzip.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("feed/replay: gzip %s: %w", path, err)
	}
	return &gzipReadCloser{Reader: zr, under: rc}, nil
}

func (f *ReplayFeed) replayFile(ctx context.Context, path string, stats *ReplayStats, prev *time.Time) error {
	rc, err := f.open(ctx, path)
	if err != nil {
		return err
	}
	defer rc.Close()
	return f.replay(ctx, path, rc, stats, prev)
}

// replay feeds one file into the sink, accumulating into stats. prev carries
// the last tick time across files so pacing stays continuous.
func (f *ReplayFeed) replay(ctx context.Context, path string, r io.Reader, stats *ReplayStats, prev *time.Time) error {
	dec, err := NewTickDecoder(r)
	if err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tick, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		stats.Rows++
		if err != nil {
			stats.Rejected++
			f.logger.Warn("replay row rejected",
				slog.String("file", path),
				slog.Int("line", dec.Line()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := f.pace(ctx, *prev, tick.Time); err != nil {
			return err
		}
		*prev = tick.Time
		if stats.First.IsZero() {
			stats.First = tick.Time
		}
		stats.Last = tick.Time

		if err := f.sink.HandleTick(ctx, tick); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			f.logger.Warn("replay tick failed",
				slog.String("file", path),
				slog.Int("line", dec.Line()),
				slog.String("error", err.Error()),
			)
			continue
		}
		stats.Delivered++
	}
}

// pace sleeps for the recorded gap between prev and next, scaled by speed.
func (f *ReplayFeed) pace(ctx context.Context, prev, next time.Time) error {
	if f.speed <= 0 || prev.IsZero() || !next.After(prev) {
		return nil
	}
	wait := time.Duration(float64(next.Sub(prev)) / f.speed)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TickDecoder reads ticks from a CSV stream with a replay header.
type TickDecoder struct {
	r     *csv.Reader
	index map[string]int
	line  int
}

// NewTickDecoder reads and validates the header.
func NewTickDecoder(r io.Reader) (*TickDecoder, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("feed/replay: read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range replayColumns {
		if _, ok := index[c]; !ok {
			return nil, fmt.Errorf("feed/replay: header missing column %q", c)
		}
	}
	cr.FieldsPerRecord = len(header)
	return &TickDecoder{r: cr, index: index, line: 1}, nil
}

// Line returns the line number of the last record read.
func (d *TickDecoder) Line() int { return d.line }

// Next returns the next tick, io.EOF at end of input, or an error wrapping
// ErrMalformedTick for a row that cannot be parsed.
func (d *TickDecoder) Next() (domain.Tick, error) {
	rec, err := d.r.Read()
	d.line++
	if err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Tick{}, io.EOF
		}
		return domain.Tick{}, fmt.Errorf("feed/replay: %w: %v", domain.ErrMalformedTick, err)
	}
	col := func(name string) string { return strings.TrimSpace(rec[d.index[name]]) }

	ts, err := parseTime(col("time"))
	if err != nil {
		return domain.Tick{}, fmt.Errorf("feed/replay: time %q: %w", col("time"), domain.ErrMalformedTick)
	}
	t := domain.Tick{
		Instrument: col("instrument"),
		Type:       domain.TickType(strings.ToLower(col("type"))),
		Time:       ts,
	}
	if t.Instrument == "" {
		return domain.Tick{}, fmt.Errorf("feed/replay: empty instrument: %w", domain.ErrMalformedTick)
	}
	fields := []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"price", &t.Price},
		{"quantity", &t.Quantity},
		{"bid_price", &t.BidPrice},
		{"bid_size", &t.BidSize},
		{"ask_price", &t.AskPrice},
		{"ask_size", &t.AskSize},
	}
	for _, fd := range fields {
		raw := col(fd.name)
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.Tick{}, fmt.Errorf("feed/replay: %s %q: %w", fd.name, raw, domain.ErrMalformedTick)
		}
		*fd.dst = v
	}
	return t, nil
}

// parseTime accepts RFC 3339 timestamps or unix milliseconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	ms, err := decimal.NewFromString(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms.IntPart()).UTC(), nil
}

type gzipReadCloser struct {
	*gzip.Reader
	under io.Closer
}

func (g *gzipReadCloser) Close() error {
	zerr := g.Reader.Close()
	if err := g.under.Close(); err != nil {
		return err
	}
	return zerr
}
