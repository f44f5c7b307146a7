package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailing-return-alerts/internal/config"
	"trailing-return-alerts/internal/market"
	"trailing-return-alerts/internal/storage"
)

type fakePutter struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.keys = append(f.keys, aws.ToString(in.Key))
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func batch() []market.Series {
	return []market.Series{{
		Ticker: "VFV.TO",
		Bars: []market.PriceBar{{
			Ticker: "VFV.TO", Date: day(2024, 1, 2),
			Open: decimal.RequireFromString("100"), High: decimal.RequireFromString("101"),
			Low: decimal.RequireFromString("99"), Close: decimal.RequireFromString("100.5"),
			AdjClose: decimal.RequireFromString("100.5"), Volume: 1200,
		}},
		Dividends: []market.Dividend{{Ticker: "VFV.TO", Date: day(2024, 1, 2), Amount: decimal.RequireFromString("0.25")}},
	}}
}

func isParquet(b []byte) bool {
	return len(b) > 8 && bytes.HasPrefix(b, []byte("PAR1")) && bytes.HasSuffix(b, []byte("PAR1"))
}

func TestEncodePrices(t *testing.T) {
	for _, codec := range []string{"snappy", "gzip", "none"} {
		data, n, err := EncodePrices("run", batch(), codec)
		require.NoError(t, err, codec)
		assert.Equal(t, 1, n)
		assert.True(t, isParquet(data), codec)
	}
}

func TestEncodeSnapshots(t *testing.T) {
	rows := []storage.SnapshotRecord{{
		RunID:      uuid.New(),
		Ticker:     "VFV.TO",
		AsOf:       day(2024, 3, 1),
		Return:     decimal.RequireFromString("26.31578947"),
		RecordedAt: time.Date(2024, 3, 2, 7, 0, 0, 0, time.UTC),
	}}
	data, err := EncodeSnapshots(rows, "snappy")
	require.NoError(t, err)
	assert.True(t, isParquet(data))
}

func TestEpochDays(t *testing.T) {
	assert.Equal(t, int32(0), epochDays(day(1970, 1, 1)))
	assert.Equal(t, int32(19724), epochDays(time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)))
}

func TestS3ArchiverUploadsEachTable(t *testing.T) {
	putter := &fakePutter{}
	a := NewS3Archiver(putter, config.ArchiveConfig{Bucket: "b", Prefix: "/observations/", Compression: "snappy"}, zerolog.Nop())
	a.now = func() time.Time { return time.Date(2024, 3, 2, 7, 0, 0, 0, time.UTC) }

	runID := uuid.MustParse("6f1c1e9a-4d1b-4a53-9d7c-2b1a4f0c9e11")
	require.NoError(t, a.Archive(context.Background(), runID, batch()))

	require.Len(t, putter.keys, 2)
	assert.Equal(t, "observations/table=price_bars/date=2024-03-02/20240302070000_"+runID.String()+".parquet", putter.keys[0])
	assert.True(t, strings.HasPrefix(putter.keys[1], "observations/table=dividends/date=2024-03-02/"))
	for _, body := range putter.bodies {
		assert.True(t, isParquet(body))
	}
}

func TestS3ArchiverSkipsEmptyTables(t *testing.T) {
	putter := &fakePutter{}
	a := NewS3Archiver(putter, config.ArchiveConfig{Bucket: "b"}, zerolog.Nop())

	require.NoError(t, a.Archive(context.Background(), uuid.New(), []market.Series{{Ticker: "VFV.TO"}}))
	assert.Empty(t, putter.keys)
}

func TestS3ArchiverUploadError(t *testing.T) {
	putter := &fakePutter{err: errors.New("access denied")}
	a := NewS3Archiver(putter, config.ArchiveConfig{Bucket: "b"}, zerolog.Nop())

	err := a.Archive(context.Background(), uuid.New(), batch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}
