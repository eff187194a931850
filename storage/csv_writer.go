package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"rentcomps/models"
)

// CSVWriter captures raw RETS rows to a CSV file for audit.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	header []string
}

// NewCSVWriter creates (or truncates) the CSV file at the given path.
// Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	return &CSVWriter{file: f, writer: csv.NewWriter(f)}, nil
}

// WriteRaw appends rows to the file. The header is written on the first
// call from the sorted union of that batch's column names; later batches
// are written against the same header.
func (c *CSVWriter) WriteRaw(records []models.RawRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.header == nil {
		if len(records) == 0 {
			return nil
		}
		c.header = columnUnion(records)
		if err := c.writer.Write(c.header); err != nil {
			return fmt.Errorf("csv: write header: %w", err)
		}
	}

	row := make([]string, len(c.header))
	for _, r := range records {
		for i, col := range c.header {
			row[i] = r[col]
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer.Flush()
	return c.file.Close()
}

func columnUnion(records []models.RawRecord) []string {
	set := make(map[string]struct{})
	for _, r := range records {
		for col := range r {
			set[col] = struct{}{}
		}
	}
	cols := make([]string, 0, len(set))
	for col := range set {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
