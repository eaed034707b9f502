package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var ErrEmptyTable = errors.New("ingest: table has no header")

// Table is parsed tabular text with normalized, de-duplicated headers.
type Table struct {
	Header    []string
	Rows      [][]string
	Delimiter rune
	index     map[string]int
}

// ParseTable reads comma- or tab-delimited text. The delimiter is tab when the
// header line has more tabs than commas. Quoted fields may contain delimiters,
// newlines and doubled quotes. Blank rows are dropped.
func ParseTable(r io.Reader) (*Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyTable
	}

	delim := detectDelimiter(raw)
	cr := csv.NewReader(bytes.NewReader(raw))
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse table: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyTable
	}

	t := &Table{Delimiter: delim, index: map[string]int{}}
	seen := map[string]int{}
	for i, h := range records[0] {
		name := NormalizeHeader(h)
		seen[name]++
		if n := seen[name]; n > 1 {
			name = name + "_" + strconv.Itoa(n)
		}
		t.Header = append(t.Header, name)
		t.index[name] = i
	}
	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

func detectDelimiter(raw []byte) rune {
	line := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		line = raw[:i]
	}
	if bytes.Count(line, []byte("\t")) > bytes.Count(line, []byte(",")) {
		return '\t'
	}
	return ','
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Column returns the index of the first header in names that exists.
func (t *Table) Column(names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := t.index[n]; ok {
			return i, true
		}
	}
	return -1, false
}

// Value returns the trimmed cell for the first matching header, or "".
func (t *Table) Value(row []string, names ...string) string {
	i, ok := t.Column(names...)
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Cell returns the trimmed cell at index i, or "" for short rows.
func Cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
