package matrixstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/warp/prescribing-engine/orgs"
)

const (
	flushInterval = 100_000
	readBatch     = 8192
)

// PrescribingRow is one pre-aggregated (practice, presentation, month)
// record of the snapshot extract.
type PrescribingRow struct {
	Practice        string  `parquet:"practice"`
	BNFCode         string  `parquet:"bnf_code"`
	Month           string  `parquet:"month"` // YYYY-MM-01
	Items           int64   `parquet:"items"`
	Quantity        float64 `parquet:"quantity"`
	ActualCostPence float64 `parquet:"actual_cost_pence"`
}

// ExtractWriter writes prescribing rows to a Parquet file.
type ExtractWriter struct {
	file   *os.File
	writer *parquet.GenericWriter[PrescribingRow]
	count  int
}

// NewExtractWriter creates a Snappy-compressed extract at path.
func NewExtractWriter(path string) (*ExtractWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create extract: %w", err)
	}
	writer := parquet.NewGenericWriter[PrescribingRow](file,
		parquet.Compression(&parquet.Snappy),
	)
	return &ExtractWriter{file: file, writer: writer}, nil
}

// Write writes a single row.
func (w *ExtractWriter) Write(row PrescribingRow) error {
	if _, err := w.writer.Write([]PrescribingRow{row}); err != nil {
		return fmt.Errorf("write prescribing row: %w", err)
	}
	w.count++
	if w.count%flushInterval == 0 {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("flush extract: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the writer.
func (w *ExtractWriter) Close() error {
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close extract writer: %w", err)
	}
	return w.file.Close()
}

// Count returns the number of rows written.
func (w *ExtractWriter) Count() int { return w.count }

// ReadExtract streams every row of the extract at path into fn.
func ReadExtract(ctx context.Context, path string, fn func(PrescribingRow) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open extract: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[PrescribingRow](f)
	defer reader.Close()

	buf := make([]PrescribingRow, readBatch)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := reader.Read(buf)
		for i := 0; i < n; i++ {
			if err := fn(buf[i]); err != nil {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("read extract: %w", readErr)
		}
	}
}

// Source yields prescribing already summed by (practice, presentation,
// month). Implemented by the stores.
type Source interface {
	AggregatedPrescribing(ctx context.Context, fn func(PrescribingRow) error) error
}

// WriteExtractFrom writes every row of src to a new extract at path and
// returns the row count. The file is written beside path and renamed into
// place so readers never see a partial extract.
func WriteExtractFrom(ctx context.Context, src Source, path string) (int, error) {
	tmp := path + ".tmp"
	w, err := NewExtractWriter(tmp)
	if err != nil {
		return 0, err
	}
	if err := src.AggregatedPrescribing(ctx, w.Write); err != nil {
		w.Close()
		os.Remove(tmp)
		return 0, err
	}
	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("publish extract: %w", err)
	}
	return w.Count(), nil
}

// LoadSnapshot builds a Snapshot from the extract at path.
func LoadSnapshot(ctx context.Context, path string, members []orgs.Membership) (*Snapshot, error) {
	b := NewBuilder(members)
	if err := ReadExtract(ctx, path, b.Add); err != nil {
		return nil, err
	}
	return b.Build(), nil
}
