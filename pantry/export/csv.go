// export/csv.go
package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Common errors.
var (
	ErrEmptyInput = errors.New("export: input has no header row")
	ErrNoHeaders  = errors.New("export: headers cannot be empty")
)

// Table is a delimited file loaded into memory: one header row and the data
// rows beneath it, every row exactly as wide as the header.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Column returns the index of the header named name, or -1.
func (t *Table) Column(name string) int {
	for i, h := range t.Headers {
		if h == name {
			return i
		}
	}
	return -1
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ReadTable parses delimited text with a header row. Blank lines are
// skipped, a UTF-8 BOM is ignored, quotes are parsed leniently, and rows are
// padded or cut to the header width.
func ReadTable(r io.Reader, delimiter rune) (*Table, error) {
	reader := csv.NewReader(stripBOM(r))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyInput
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	t := &Table{Headers: header}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		t.Rows = append(t.Rows, fitRow(row, len(header)))
	}
	return t, nil
}

// ReadTableFile opens path and reads it with ReadTable.
func ReadTableFile(path string, delimiter rune) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadTable(f, delimiter)
}

func fitRow(row []string, width int) []string {
	if len(row) == width {
		return row
	}
	out := make([]string, width)
	copy(out, row)
	return out
}

func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = br.Discard(3)
	}
	return br
}

// CSVAppender appends rows to a delimited file across several calls.
// The file is created by the first non-empty Append; a header row is written
// only when the file is new or empty.
type CSVAppender struct {
	path          string
	delimiter     rune
	headerWritten bool
}

// OpenCSV prepares an appender for path. An existing non-empty file is
// assumed to already carry its header row.
func OpenCSV(path string, delimiter rune) (*CSVAppender, error) {
	a := &CSVAppender{path: path, delimiter: delimiter}

	info, err := os.Stat(path)
	switch {
	case err == nil:
		a.headerWritten = info.Size() > 0
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	return a, nil
}

// Append writes rows (and the header if needed) to the end of the file.
func (a *CSVAppender) Append(headers []string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	if len(headers) == 0 {
		return ErrNoHeaders
	}

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	w.Comma = a.delimiter
	w.UseCRLF = true

	if !a.headerWritten {
		if err := w.Write(headers); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	a.headerWritten = true
	return nil
}

// Close is a no-op; each Append closes the file it opened.
func (a *CSVAppender) Close() error {
	return nil
}
