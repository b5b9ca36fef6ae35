package csvutil

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ProcessorOptions configures CSV processing behavior.
type ProcessorOptions struct {
	// FieldsPerRecord sets the expected number of fields per record.
	// If 0, it's set to the number of fields in the first record; negative
	// allows a variable count.
	FieldsPerRecord int

	// SkipInvalid controls whether to skip invalid records or return an error.
	SkipInvalid bool

	// ValidateHeader, if set, is called once with the header row.
	ValidateHeader func(Header) error
}

// Header maps lowercased column names to their index.
type Header map[string]int

func newHeader(record []string) Header {
	h := make(Header, len(record))
	for i, name := range record {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := h[name]; !dup {
			h[name] = i
		}
	}
	return h
}

// Get returns the trimmed value of the first named column present in the
// header, or "".
func (h Header) Get(record []string, names ...string) string {
	for _, name := range names {
		if i, ok := h[strings.ToLower(name)]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
	}
	return ""
}

// Has reports whether any of the named columns is present.
func (h Header) Has(names ...string) bool {
	for _, name := range names {
		if _, ok := h[strings.ToLower(name)]; ok {
			return true
		}
	}
	return false
}

// ProcessCSV reads a CSV file and parses each record into type T.
// The first row is the header; parser receives it with every record.
func ProcessCSV[T any](filename string, parser func(Header, []string) (T, error), opts ProcessorOptions) ([]T, error) {
	csvFile, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer func() { _ = csvFile.Close() }()

	// File existence check
	if fi, err := csvFile.Stat(); err != nil || fi.Size() == 0 {
		return nil, errors.New("CSV file is empty or cannot be read")
	}

	return ProcessReader(csvFile, parser, opts)
}

// ProcessReader is ProcessCSV for an already open reader.
func ProcessReader[T any](r io.Reader, parser func(Header, []string) (T, error), opts ProcessorOptions) ([]T, error) {
	reader := csv.NewReader(r)
	if opts.FieldsPerRecord != 0 {
		reader.FieldsPerRecord = opts.FieldsPerRecord
	}

	first, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	header := newHeader(first)
	if opts.ValidateHeader != nil {
		if err := opts.ValidateHeader(header); err != nil {
			return nil, err
		}
	}

	var items []T
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			slog.Warn("Error reading record", "line", line, "error", err)
			continue
		}

		item, err := parser(header, record)
		if err != nil {
			if opts.SkipInvalid {
				slog.Warn("Skipping invalid record", "line", line, "error", err)
				continue
			}
			return nil, fmt.Errorf("invalid record on line %d: %w", line, err)
		}

		items = append(items, item)
	}

	return items, nil
}
