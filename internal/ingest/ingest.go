// Package ingest turns uploaded files into item texts.
package ingest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Parse reads texts from r, treating files with a .csv extension as CSV and
// anything else as one text per line.
func Parse(filename string, r io.Reader) ([]string, error) {
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		return ParseCSV(r)
	}
	return ParseLines(r)
}

// ParseCSV reads a quote-aware CSV. When the first row has a column named
// "text" that column is used and the row is skipped; otherwise the first
// column of every row is taken.
func ParseCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var texts []string
	column := 0
	first := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse csv: %w", err)
		}

		if first {
			first = false
			if idx := headerColumn(record); idx >= 0 {
				column = idx
				continue
			}
		}

		if column >= len(record) {
			continue
		}
		if text := strings.TrimSpace(record[column]); text != "" {
			texts = append(texts, text)
		}
	}
	return texts, nil
}

// ParseLines returns every non-blank line of r.
func ParseLines(r io.Reader) ([]string, error) {
	var texts []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if text := strings.TrimSpace(scanner.Text()); text != "" {
			texts = append(texts, text)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lines: %w", err)
	}
	return texts, nil
}

func headerColumn(record []string) int {
	for i, field := range record {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(field, "\ufeff")))
		if name == "text" || name == "tweet" {
			return i
		}
	}
	return -1
}
