// Package csvfile reads the observation input file into an unvalidated table.
package csvfile

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/couchcryptid/weather-forecast/internal/domain"
)

// Read loads path as a CSV table. The first record is the header. Cells are
// trimmed but otherwise left as text for domain.ValidateTable.
func Read(path string) (domain.RawTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.RawTable{}, &domain.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	table, err := Decode(f)
	if err != nil {
		return domain.RawTable{}, &domain.IOError{Op: "read", Path: path, Err: err}
	}
	table.Source = path
	return table, nil
}

// Decode parses a CSV stream. Rows may have any width; width problems are
// reported by the validator with line numbers. Blank lines are skipped, so
// each row's file line is kept in Lines.
func Decode(r io.Reader) (domain.RawTable, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return domain.RawTable{}, errors.New("empty file")
	}
	if err != nil {
		return domain.RawTable{}, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	table := domain.RawTable{Header: trimAll(header)}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.RawTable{}, err
		}
		line, _ := cr.FieldPos(0)
		table.Rows = append(table.Rows, trimAll(rec))
		table.Lines = append(table.Lines, line)
	}
	return table, nil
}

func trimAll(cells []string) []string {
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}
