// Package export renders items as a table with one row per item and a
// label/reasons column pair per student, and reads that table back.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"labeling-service/internal/models"
)

const (
	labelSuffix     = "_label"
	reasonsSuffix   = "_reasons"
	reasonSeparator = models.ReasonSeparator
)

var baseHeader = []string{"id", "text", "finalLabel"}

// Row is one parsed line of an exported table.
type Row struct {
	ID         string
	Text       string
	FinalLabel models.Verdict
	Labels     map[string]models.Label
	Reasons    map[string][]string
}

// Annotation returns student's label and reasons on this row.
func (r *Row) Annotation(student string) (models.Label, []string, bool) {
	l, ok := r.Labels[student]
	return l, r.Reasons[student], ok
}

// Students returns every student that is assigned to or has labeled any
// of items, sorted.
func Students(items []*models.Item) []string {
	seen := make(map[string]struct{})
	for _, item := range items {
		for _, s := range item.AssignedTo {
			seen[s] = struct{}{}
		}
		for s := range item.Annotations {
			seen[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// WriteCSV writes items as CSV. Pending verdicts are rendered empty and
// conflicts as the literal CONFLICT.
func WriteCSV(w io.Writer, items []*models.Item) error {
	students := Students(items)

	writer := csv.NewWriter(w)

	header := append([]string{}, baseHeader...)
	for _, s := range students {
		header = append(header, s+labelSuffix, s+reasonsSuffix)
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, item := range items {
		record := []string{item.ID, item.Text, string(item.FinalLabel)}
		for _, s := range students {
			record = append(record,
				string(item.Annotations[s]),
				strings.Join(item.AnnotationFeatures[s], reasonSeparator))
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write item %s: %w", item.ID, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// ReadCSV parses a table produced by WriteCSV.
func ReadCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < len(baseHeader) {
		return nil, fmt.Errorf("unexpected header %v", header)
	}
	for i, name := range baseHeader {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected column %q at %d, want %q", header[i], i, name)
		}
	}

	type column struct {
		student string
		reasons bool
	}
	columns := make([]column, len(header))
	for i := len(baseHeader); i < len(header); i++ {
		switch name := header[i]; {
		case strings.HasSuffix(name, labelSuffix):
			columns[i] = column{student: strings.TrimSuffix(name, labelSuffix)}
		case strings.HasSuffix(name, reasonsSuffix):
			columns[i] = column{student: strings.TrimSuffix(name, reasonsSuffix), reasons: true}
		default:
			return nil, fmt.Errorf("unexpected column %q", name)
		}
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}

		row := Row{
			ID:         record[0],
			Text:       record[1],
			FinalLabel: models.Verdict(record[2]),
			Labels:     make(map[string]models.Label),
			Reasons:    make(map[string][]string),
		}
		for i := len(baseHeader); i < len(record); i++ {
			value := record[i]
			if value == "" {
				continue
			}
			col := columns[i]
			if col.reasons {
				row.Reasons[col.student] = strings.Split(value, reasonSeparator)
				continue
			}
			l, ok := models.ParseLabel(value)
			if !ok {
				return nil, fmt.Errorf("item %s: unknown label %q for %s", row.ID, value, col.student)
			}
			row.Labels[col.student] = l
		}
		rows = append(rows, row)
	}
	return rows, nil
}
