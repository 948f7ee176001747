// Package testhelper holds fixtures shared by package tests.
package testhelper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// SheetData is the content of one fixture worksheet. Merges are cell ranges
// such as "J6:L6".
type SheetData struct {
	Name   string
	Rows   [][]any
	Merges [][2]string
}

// WriteXLSX saves the sheets as an xlsx workbook at dir/name and returns the
// full path. The extension of name is not checked, so a ".xls" fixture holding
// xlsx content is allowed.
func WriteXLSX(t testing.TB, dir, name string, sheets ...SheetData) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, s := range sheets {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", s.Name))
		} else {
			_, err := f.NewSheet(s.Name)
			require.NoError(t, err)
		}
		for r, row := range s.Rows {
			if len(row) == 0 {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			values := row
			require.NoError(t, f.SetSheetRow(s.Name, cell, &values))
		}
		for _, m := range s.Merges {
			require.NoError(t, f.MergeCell(s.Name, m[0], m[1]))
		}
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return WriteFile(t, dir, name, buf.Bytes())
}

// WriteFile writes raw bytes to dir/name and returns the full path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
