// Package filestore keeps each job's uploaded CSV on local disk, addressed
// by job id, and serves row-range reads to the chunk pipeline.
package filestore

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ndquangr/txingest/internal/validate"
)

// Required CSV columns, matched by header name.
const (
	ColumnTransactionID = "transaction_id"
	ColumnUserID        = "user_id"
	ColumnAmount        = "amount"
	ColumnTimestamp     = "timestamp"
)

// columnIndex maps the required columns to their positions in the header.
type columnIndex struct {
	transactionID int
	userID        int
	amount        int
	timestamp     int
}

// Store is a local-disk CSV store. The header of each job's file is parsed
// once and the column mapping is reused across that job's chunk reads.
type Store struct {
	dir string

	mu      sync.Mutex
	columns map[string]columnIndex
}

// NewStore creates the upload directory if needed and returns a store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &Store{
		dir:     dir,
		columns: make(map[string]columnIndex),
	}, nil
}

// path returns the on-disk location of a job's CSV.
func (s *Store) path(jobID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("job_%s.csv", jobID))
}

// Save streams the uploaded CSV to disk and returns the byte count.
func (s *Store) Save(jobID string, r io.Reader) (int64, error) {
	f, err := os.Create(s.path(jobID))
	if err != nil {
		return 0, fmt.Errorf("failed to create upload file: %w", err)
	}
	defer f.Close()

	written, err := io.Copy(f, r)
	if err != nil {
		return 0, fmt.Errorf("failed to write upload file: %w", err)
	}
	return written, nil
}

// Size returns the file size in bytes for a job's CSV.
func (s *Store) Size(jobID string) (int64, error) {
	info, err := os.Stat(s.path(jobID))
	if err != nil {
		return 0, fmt.Errorf("failed to stat upload file: %w", err)
	}
	return info.Size(), nil
}

// CountRows returns the number of data rows, excluding the header.
func (s *Store) CountRows(jobID string) (int, error) {
	f, err := os.Open(s.path(jobID))
	if err != nil {
		return 0, fmt.Errorf("failed to open upload file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	count := -1 // header does not count
	for {
		_, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to scan csv rows: %w", err)
		}
		count++
	}
	if count < 0 {
		count = 0
	}
	return count, nil
}

// ReadRange reads the data rows in [start, end), mapping columns by header
// name. The header mapping is cached per job the first time the file is
// read, so repeated chunk reads reuse it.
func (s *Store) ReadRange(jobID string, start, end int) ([]validate.Record, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid row range [%d, %d)", start, end)
	}

	f, err := os.Open(s.path(jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to open upload file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	cols, err := s.columnsFor(jobID, header)
	if err != nil {
		return nil, err
	}

	records := make([]validate.Record, 0, end-start)
	for row := 0; row < end; row++ {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row %d: %w", row, err)
		}
		if row < start {
			continue
		}
		records = append(records, validate.Record{
			TransactionID: fieldAt(fields, cols.transactionID),
			UserID:        fieldAt(fields, cols.userID),
			Amount:        fieldAt(fields, cols.amount),
			Timestamp:     fieldAt(fields, cols.timestamp),
		})
	}
	return records, nil
}

// columnsFor resolves the required column positions, caching per job.
func (s *Store) columnsFor(jobID string, header []string) (columnIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cols, ok := s.columns[jobID]; ok {
		return cols, nil
	}

	positions := map[string]int{}
	for i, name := range header {
		positions[name] = i
	}

	cols := columnIndex{}
	required := []struct {
		name string
		dst  *int
	}{
		{ColumnTransactionID, &cols.transactionID},
		{ColumnUserID, &cols.userID},
		{ColumnAmount, &cols.amount},
		{ColumnTimestamp, &cols.timestamp},
	}
	for _, col := range required {
		idx, ok := positions[col.name]
		if !ok {
			return columnIndex{}, fmt.Errorf("csv header is missing column %q", col.name)
		}
		*col.dst = idx
	}

	s.columns[jobID] = cols
	return cols, nil
}

func fieldAt(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	return fields[idx]
}
