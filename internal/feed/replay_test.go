package feed

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

const sampleCSV = `time,instrument,type,price,quantity,bid_price,bid_size,ask_price,ask_size
2013-10-07T13:30:00Z,SPY,quote,,,168.50,300,168.52,200
2013-10-07T13:30:01Z,SPY,trade,168.51,100,,,,
1381152602000,SPY,QUOTE,,,168.49,100,0,0
2013-10-07T13:30:03Z,SPY,quote,,,abc,1,,
`

type sinkRecorder struct {
	mu      sync.Mutex
	ticks   []domain.Tick
	flushed time.Time
}

func (s *sinkRecorder) HandleTick(_ context.Context, t domain.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, t)
	return nil
}

func (s *sinkRecorder) Flush(_ context.Context, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed = ts
}

type memBlobs map[string][]byte

func (m memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, b := range m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(b))})
		}
	}
	return out, nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestTickDecoder(t *testing.T) {
	dec, err := NewTickDecoder(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	q, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, domain.TickQuote, q.Type)
	assert.Equal(t, "SPY", q.Instrument)
	assert.Equal(t, "168.52", q.AskPrice.String())
	assert.Equal(t, "300", q.BidSize.String())
	assert.True(t, q.Price.IsZero())

	tr, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, domain.TickTrade, tr.Type)
	assert.Equal(t, "168.51", tr.Price.String())

	ms, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, domain.TickQuote, ms.Type)
	assert.Equal(t, time.Date(2013, 10, 7, 13, 30, 2, 0, time.UTC), ms.Time)

	_, err = dec.Next()
	assert.ErrorIs(t, err, domain.ErrMalformedTick)
	assert.Equal(t, 5, dec.Line())

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestTickDecoder_MissingColumn(t *testing.T) {
	_, err := NewTickDecoder(strings.NewReader("time,instrument,type\n"))
	assert.Error(t, err)
}

func TestReplayFeed_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	sink := &sinkRecorder{}
	err := NewReplayFeed(path, 0, nil, sink, discardLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, sink.ticks, 3)
	assert.Equal(t, time.Date(2013, 10, 7, 13, 30, 2, 0, time.UTC), sink.flushed)
}

func TestReplayFeed_GzipFromBlobStore(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	blobs := memBlobs{"replay/2013-10-07.csv.gz": buf.Bytes()}
	sink := &sinkRecorder{}
	err = NewReplayFeed("s3://replay/2013-10-07.csv.gz", 0, blobs, sink, discardLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, sink.ticks, 3)
}

func TestReplayFeed_S3WithoutBlobStore(t *testing.T) {
	err := NewReplayFeed("s3://x.csv", 0, nil, &sinkRecorder{}, discardLogger()).Run(context.Background())
	assert.Error(t, err)
}

func TestReplayFeed_PacingHonoursCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := NewReplayFeed(path, 0.001, nil, &sinkRecorder{}, discardLogger()).Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReplayFeed_PrefixReplaysEveryObjectInOrder(t *testing.T) {
	const header = "time,instrument,type,price,quantity,bid_price,bid_size,ask_price,ask_size\n"
	blobs := memBlobs{
		"ticks/2013-10-08.csv": []byte(header + "2013-10-08T13:30:00Z,SPY,quote,,,170,1,0,0\n"),
		"ticks/2013-10-07.csv": []byte(header +
			"2013-10-07T13:30:00Z,SPY,quote,,,168,1,0,0\n" +
			"2013-10-07T13:31:00Z,SPY,quote,,,169,1,0,0\n"),
		"other/2013-10-09.csv": []byte(header + "2013-10-09T13:30:00Z,SPY,quote,,,171,1,0,0\n"),
	}
	sink := &sinkRecorder{}
	rf := NewReplayFeed("s3://ticks/", 0, blobs, sink, discardLogger())
	require.NoError(t, rf.Run(context.Background()))

	require.Len(t, sink.ticks, 3)
	for i, want := range []string{"168", "169", "170"} {
		assert.Equal(t, want, sink.ticks[i].BidPrice.String())
	}
	assert.Equal(t, time.Date(2013, 10, 8, 13, 30, 0, 0, time.UTC), sink.flushed)

	st := rf.Stats()
	assert.Equal(t, 3, st.Delivered)
	assert.Equal(t, time.Date(2013, 10, 7, 13, 30, 0, 0, time.UTC), st.First)
}

func TestReplayFeed_EmptyPrefix(t *testing.T) {
	err := NewReplayFeed("s3://ticks/", 0, memBlobs{}, &sinkRecorder{}, discardLogger()).Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
