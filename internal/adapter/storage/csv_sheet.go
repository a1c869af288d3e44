package storage

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSVSheet loads a spreadsheet export into a MemorySheet. Ragged rows are kept as is and a
// leading UTF-8 BOM is dropped.
func ReadCSVSheet(r io.Reader) (*MemorySheet, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return NewMemorySheet(records), nil
}

// LoadCSVSheet reads the CSV file at path with ReadCSVSheet.
func LoadCSVSheet(path string) (*MemorySheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv sheet: %w", err)
	}
	defer f.Close()
	return ReadCSVSheet(f)
}
