package csvutil

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/lepinkainen/coverfinder/internal/cover"
)

// Accepted column names for each query field.
var (
	titleColumns     = []string{"title", "タイトル", "書名"}
	authorColumns    = []string{"author", "authors", "著者", "著者名"}
	isbnColumns      = []string{"isbn", "isbn13", "isbn-13"}
	genreColumns     = []string{"genre", "ジャンル"}
	publisherColumns = []string{"publisher", "出版社"}
	yearColumns      = []string{"year", "出版年", "year published"}
)

// ErrNoTitleColumn is returned when the header has no recognizable title column.
var ErrNoTitleColumn = errors.New("CSV header has no title column")

// LoadBooks reads book queries from a CSV file with a header row. Rows
// without a title are skipped.
func LoadBooks(filename string) ([]cover.BookQuery, error) {
	return ProcessCSV(filename, parseBook, ProcessorOptions{
		FieldsPerRecord: -1,
		SkipInvalid:     true,
		ValidateHeader: func(h Header) error {
			if !h.Has(titleColumns...) {
				return ErrNoTitleColumn
			}
			return nil
		},
	})
}

func parseBook(h Header, record []string) (cover.BookQuery, error) {
	q := cover.BookQuery{
		Title:     h.Get(record, titleColumns...),
		Author:    h.Get(record, authorColumns...),
		ISBN:      h.Get(record, isbnColumns...),
		Genre:     h.Get(record, genreColumns...),
		Publisher: h.Get(record, publisherColumns...),
	}
	if q.Title == "" {
		return cover.BookQuery{}, errors.New("empty title")
	}
	if raw := h.Get(record, yearColumns...); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			return cover.BookQuery{}, fmt.Errorf("invalid year %q: %w", raw, err)
		}
		q.Year = year
	}
	return q, nil
}
