// Package workbook reads report workbooks (xlsx, legacy xls or CSV) into raw
// string grids and locates the header and data rows of each sheet.
package workbook

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Format is the detected container format of a workbook.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
	FormatCSV  Format = "csv"
)

var (
	zipMagic  = []byte("PK\x03\x04")
	ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	utf8BOM   = []byte{0xEF, 0xBB, 0xBF}
)

var ErrEmptyWorkbook = errors.New("workbook has no sheets")

type rawSheet struct {
	name string
	rows [][]string
}

// Workbook holds every sheet of a file as raw cell text.
type Workbook struct {
	Name   string
	Format Format
	sheets []rawSheet
}

// Open reads the file at path. The container format is sniffed from the
// content, so an xlsx saved with an .xls extension still opens.
func Open(path string) (*Workbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}
	return Read(filepath.Base(path), data)
}

// Read parses an in-memory workbook.
func Read(name string, data []byte) (*Workbook, error) {
	var (
		wb  *Workbook
		err error
	)
	switch {
	case bytes.HasPrefix(data, zipMagic):
		wb, err = readXLSX(data)
	case bytes.HasPrefix(data, ole2Magic):
		wb, err = readXLS(data)
	default:
		wb, err = readCSV(name, data)
	}
	if err != nil {
		return nil, &StructuralError{Sheet: name, Reason: err.Error(), Err: err}
	}
	if len(wb.sheets) == 0 {
		return nil, &StructuralError{Sheet: name, Reason: ErrEmptyWorkbook.Error(), Err: ErrEmptyWorkbook}
	}
	wb.Name = name
	return wb, nil
}

// SheetNames lists sheets in workbook order.
func (w *Workbook) SheetNames() []string {
	names := make([]string, len(w.sheets))
	for i, s := range w.sheets {
		names[i] = s.name
	}
	return names
}

func readXLSX(data []byte) (*Workbook, error) {
	xl, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer xl.Close()

	wb := &Workbook{Format: FormatXLSX}
	for _, name := range xl.GetSheetList() {
		rows, err := xl.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		wb.sheets = append(wb.sheets, rawSheet{name: name, rows: rows})
	}
	return wb, nil
}

func readXLS(data []byte) (*Workbook, error) {
	book, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}

	wb := &Workbook{Format: FormatXLS}
	for i := 0; i < book.NumSheets(); i++ {
		sheet := book.GetSheet(i)
		if sheet == nil {
			continue
		}
		rows := make([][]string, 0, int(sheet.MaxRow)+1)
		for r := 0; r <= int(sheet.MaxRow); r++ {
			row := sheet.Row(r)
			if row == nil {
				rows = append(rows, nil)
				continue
			}
			cells := make([]string, 0, row.LastCol()+1)
			for c := 0; c <= row.LastCol(); c++ {
				cells = append(cells, row.Col(c))
			}
			rows = append(rows, cells)
		}
		wb.sheets = append(wb.sheets, rawSheet{name: sheet.Name, rows: rows})
	}
	return wb, nil
}

// readCSV treats the file as a single sheet. Text that is not valid UTF-8 is
// decoded as Windows-874, the usual Thai export encoding.
func readCSV(name string, data []byte) (*Workbook, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	var src io.Reader = bytes.NewReader(data)
	if !utf8.Valid(data) {
		src = transform.NewReader(src, charmap.Windows874.NewDecoder())
	}

	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	sheetName := strings.TrimSuffix(name, filepath.Ext(name))
	return &Workbook{Format: FormatCSV, sheets: []rawSheet{{name: sheetName, rows: rows}}}, nil
}
