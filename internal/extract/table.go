package extract

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// readCSV parses CSV with a header row. Missing trailing cells are left out of
// the row map; a leading UTF-8 BOM is ignored.
func readCSV(content []byte) ([]map[string]string, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	var rows []map[string]string
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV line %d: %w", line, err)
		}
		rows = append(rows, zipRow(header, rec))
	}
	return rows, nil
}

// readXLSX reads the first sheet with its first row as the header.
func readXLSX(content []byte) ([]map[string]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("get rows for sheet %q: %w", sheets[0], err)
	}
	if len(all) == 0 {
		return nil, nil
	}
	header := all[0]
	rows := make([]map[string]string, 0, len(all)-1)
	for _, rec := range all[1:] {
		rows = append(rows, zipRow(header, rec))
	}
	return rows, nil
}

func zipRow(header, rec []string) map[string]string {
	row := make(map[string]string, len(header))
	for i, key := range header {
		key = strings.TrimSpace(key)
		if key == "" || i >= len(rec) {
			continue
		}
		row[key] = rec[i]
	}
	return row
}
