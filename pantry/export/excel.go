// export/excel.go
package export

import (
	"errors"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"
)

// Workbook appends rows to one sheet of an .xlsx file across several calls.
//
// The file is created by the first non-empty Append, with a bold header row.
// When the file already exists its last used row is read once at open; the
// next free row is then tracked in memory, so later appends never re-read the
// sheet and never repeat the header. Every Append saves the file.
type Workbook struct {
	file    *excelize.File
	path    string
	sheet   string
	nextRow int
}

// OpenWorkbook prepares a workbook appender for sheet in path.
func OpenWorkbook(path, sheet string) (*Workbook, error) {
	w := &Workbook{path: path, sheet: sheet, nextRow: 1}

	if _, err := os.Stat(path); err == nil {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		w.file = f

		idx, err := f.GetSheetIndex(sheet)
		if err != nil || idx < 0 {
			if _, err := f.NewSheet(sheet); err != nil {
				f.Close()
				return nil, fmt.Errorf("add sheet %q: %w", sheet, err)
			}
			return w, nil
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		w.nextRow = len(rows) + 1
		return w, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	f := excelize.NewFile()
	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("name sheet %q: %w", sheet, err)
		}
	}
	w.file = f
	return w, nil
}

// NextRow returns the 1-based row the next Append starts at.
func (w *Workbook) NextRow() int {
	return w.nextRow
}

// Append writes rows below the current last row and saves the file. The
// header row is written only if the sheet is empty.
func (w *Workbook) Append(headers []string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	if len(headers) == 0 {
		return ErrNoHeaders
	}

	row := w.nextRow
	if row == 1 {
		if err := w.writeRow(row, headers); err != nil {
			return err
		}
		if err := w.styleHeader(len(headers)); err != nil {
			return err
		}
		row++
	}

	for _, values := range rows {
		if err := w.writeRow(row, values); err != nil {
			return err
		}
		row++
	}

	if err := w.file.SaveAs(w.path); err != nil {
		return fmt.Errorf("save %s: %w", w.path, err)
	}
	w.nextRow = row
	return nil
}

// Close releases the workbook.
func (w *Workbook) Close() error {
	return w.file.Close()
}

func (w *Workbook) writeRow(row int, values []string) error {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return w.file.SetSheetRow(w.sheet, cell, &cells)
}

func (w *Workbook) styleHeader(width int) error {
	style, err := w.file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Border: []excelize.Border{
			{Type: "bottom", Color: "#000000", Style: 1},
		},
	})
	if err != nil {
		return err
	}
	end, err := excelize.CoordinatesToCellName(width, 1)
	if err != nil {
		return err
	}
	return w.file.SetCellStyle(w.sheet, "A1", end, style)
}
