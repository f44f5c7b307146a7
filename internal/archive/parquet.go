package archive

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"trailing-return-alerts/internal/market"
	"trailing-return-alerts/internal/storage"
)

type priceRecord struct {
	Ticker   string  `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date     int32   `parquet:"name=trade_date, type=INT32, convertedtype=DATE"`
	Open     float64 `parquet:"name=open, type=DOUBLE"`
	High     float64 `parquet:"name=high, type=DOUBLE"`
	Low      float64 `parquet:"name=low, type=DOUBLE"`
	Close    float64 `parquet:"name=close, type=DOUBLE"`
	AdjClose float64 `parquet:"name=adj_close, type=DOUBLE"`
	Volume   int64   `parquet:"name=volume, type=INT64"`
	RunID    string  `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type dividendRecord struct {
	Ticker string  `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date   int32   `parquet:"name=ex_date, type=INT32, convertedtype=DATE"`
	Amount float64 `parquet:"name=amount, type=DOUBLE"`
	RunID  string  `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type snapshotRecord struct {
	RunID      string  `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Ticker     string  `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8"`
	AsOf       int32   `parquet:"name=as_of, type=INT32, convertedtype=DATE"`
	ReturnPct  float64 `parquet:"name=return_pct, type=DOUBLE"`
	RecordedAt int64   `parquet:"name=recorded_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// memFile is a write-only in-memory parquet sink.
type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }

func epochDays(t time.Time) int32 {
	return int32(market.Day(t).Unix() / 86400)
}

func codec(compression string) parquet.CompressionCodec {
	switch strings.ToLower(compression) {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

func encode[T any](records []T, compression string) ([]byte, error) {
	if len(records) == 0 {
		return nil, nil
	}
	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(T), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = codec(compression)

	for _, rec := range records {
		if err := pw.Write(rec); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return mem.buffer.Bytes(), nil
}

// EncodePrices renders every bar of batch as a parquet file.
func EncodePrices(runID string, batch []market.Series, compression string) ([]byte, int, error) {
	records := make([]priceRecord, 0)
	for _, series := range batch {
		for _, bar := range series.Bars {
			records = append(records, priceRecord{
				Ticker:   bar.Ticker,
				Date:     epochDays(bar.Date),
				Open:     bar.Open.InexactFloat64(),
				High:     bar.High.InexactFloat64(),
				Low:      bar.Low.InexactFloat64(),
				Close:    bar.Close.InexactFloat64(),
				AdjClose: bar.AdjClose.InexactFloat64(),
				Volume:   bar.Volume,
				RunID:    runID,
			})
		}
	}
	data, err := encode(records, compression)
	return data, len(records), err
}

// EncodeDividends renders every dividend of batch as a parquet file.
func EncodeDividends(runID string, batch []market.Series, compression string) ([]byte, int, error) {
	records := make([]dividendRecord, 0)
	for _, series := range batch {
		for _, div := range series.Dividends {
			records = append(records, dividendRecord{
				Ticker: div.Ticker,
				Date:   epochDays(div.Date),
				Amount: div.Amount.InexactFloat64(),
				RunID:  runID,
			})
		}
	}
	data, err := encode(records, compression)
	return data, len(records), err
}

// EncodeSnapshots renders stored snapshot rows as a parquet file. No rows
// yields no bytes.
func EncodeSnapshots(rows []storage.SnapshotRecord, compression string) ([]byte, error) {
	records := make([]snapshotRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, snapshotRecord{
			RunID:      row.RunID.String(),
			Ticker:     row.Ticker,
			AsOf:       epochDays(row.AsOf),
			ReturnPct:  row.Return.InexactFloat64(),
			RecordedAt: row.RecordedAt.UnixMilli(),
		})
	}
	return encode(records, compression)
}
