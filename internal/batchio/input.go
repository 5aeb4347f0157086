// Package batchio reads identifier lists for batch lookups and writes their
// results as JSON lines or shapefiles.
package batchio

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// InputOptions configures identifier extraction.
type InputOptions struct {
	// Column names the header column holding identifiers. When empty the
	// first column is used and a recognized header row is skipped.
	Column string
	// Sheet selects an XLSX sheet by name; the first sheet is the default.
	Sheet string
}

var headerNames = map[string]bool{
	"id":          true,
	"parcel_id":   true,
	"building_id": true,
	"identifier":  true,
	"teryt":       true,
}

// ReadIDs loads identifiers from a .csv/.txt or .xlsx file. Blank cells and
// repeated identifiers are dropped; order is preserved.
func ReadIDs(path string, opts InputOptions) ([]string, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSX(path, opts.Sheet)
	case ".csv", ".txt", "":
		rows, err = readCSVFile(path)
	default:
		return nil, eris.Errorf("batchio: unsupported input %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return extractIDs(rows, opts.Column)
}

func extractIDs(rows [][]string, column string) ([]string, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	col := 0
	start := 0
	if column != "" {
		col = -1
		for i, h := range rows[0] {
			if strings.EqualFold(strings.TrimSpace(h), column) {
				col = i
				break
			}
		}
		if col < 0 {
			return nil, eris.Errorf("batchio: column %q not found in header", column)
		}
		start = 1
	} else if len(rows[0]) > 0 && headerNames[strings.ToLower(strings.TrimSpace(rows[0][0]))] {
		start = 1
	}

	seen := map[string]bool{}
	var ids []string
	for _, row := range rows[start:] {
		if col >= len(row) {
			continue
		}
		id := strings.TrimSpace(row[col])
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func readCSVFile(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "batchio: open %s", path)
	}
	defer f.Close()
	return readCSV(f)
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "batchio: read csv row")
		}
		rows = append(rows, record)
	}
}

func readXLSX(path, sheetName string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "batchio: open xlsx")
	}

	var sheet *xlsx.Sheet
	switch {
	case sheetName != "":
		s, ok := f.Sheet[sheetName]
		if !ok {
			return nil, eris.Errorf("batchio: sheet %q not found", sheetName)
		}
		sheet = s
	case len(f.Sheets) == 0:
		return nil, eris.New("batchio: workbook has no sheets")
	default:
		sheet = f.Sheets[0]
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
