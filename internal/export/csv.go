// Package export renders stored crossing events for download (spec §6,
// POST /api/export). CSV is implemented with encoding/csv: no xlsx or pdf
// library appears anywhere in the reference pack, so those two formats are
// reported as unsupported rather than hand-rolled.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/linetally/peoplecount/internal/counting"
)

// Format identifies the requested export encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatExcel Format = "excel"
	FormatPDF   Format = "pdf"
)

// ErrUnsupportedFormat describes a format recognized by the wire contract
// but not implemented. Nothing in this package returns it: CSV is the only
// renderer, and the API's export handler answers excel/pdf with 501 itself.
var ErrUnsupportedFormat = fmt.Errorf("export: format not implemented")

var csvHeader = []string{"id", "timestamp", "track_id", "person_id", "direction"}

// CSV renders events as a CSV document with a header row.
func CSV(events []counting.CrossingEvent) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("export: write header: %w", err)
	}
	for _, ev := range events {
		record := []string{
			strconv.FormatInt(ev.ID, 10),
			ev.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
			strconv.Itoa(ev.TrackID),
			ev.PersonID,
			string(ev.Direction),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("export: write record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("export: flush: %w", err)
	}
	return buf.Bytes(), nil
}
