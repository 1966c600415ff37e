// Package export renders UID records as downloadable CSV or XLSX reports.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/BetaZoneOnline/fb-sender/internal/db"
)

// Format is a supported report format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format query value. Empty defaults to CSV.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Filename returns a download filename stamped with the given day.
func (f Format) Filename(day string) string {
	return fmt.Sprintf("uids-%s.%s", day, f)
}

var header = []string{
	"uid",
	"raw_input",
	"status",
	"attempts",
	"last_error_code",
	"last_error_message",
	"evidence_ref",
	"next_retry_at",
	"duration_ms",
	"first_seen_at",
	"last_updated_at",
}

func row(rec *db.UidRecord) []string {
	return []string{
		rec.UID,
		rec.RawInput,
		rec.Status,
		strconv.Itoa(rec.Attempts),
		strValue(rec.LastErrorCode),
		strValue(rec.LastErrorMessage),
		strValue(rec.EvidenceRef),
		timeValue(rec.NextRetryAt),
		int64Value(rec.DurationMs),
		rec.FirstSeenAt.Format(time.RFC3339),
		rec.LastUpdatedAt.Format(time.RFC3339),
	}
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timeValue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func int64Value(n *int64) string {
	if n == nil {
		return ""
	}
	return strconv.FormatInt(*n, 10)
}

// CSVWriter streams records as CSV rows.
type CSVWriter struct {
	cw *csv.Writer
}

// NewCSV writes the header row and returns a streaming writer.
func NewCSV(w io.Writer) (*CSVWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return &CSVWriter{cw: cw}, nil
}

// Write appends one record row.
func (w *CSVWriter) Write(rec *db.UidRecord) error {
	if err := w.cw.Write(row(rec)); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	return nil
}

// Flush finishes the stream and reports any buffered write error.
func (w *CSVWriter) Flush() error {
	w.cw.Flush()
	return w.cw.Error()
}

const xlsxSheet = "UIDs"

// XLSXWriter accumulates records into an in-memory workbook. XLSX is a
// zip container, so unlike CSV it cannot stream row by row to the
// response; WriteTo serializes the finished file.
type XLSXWriter struct {
	file *excelize.File
	next int
}

// NewXLSX creates a workbook with the header row in place.
func NewXLSX() (*XLSXWriter, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	w := &XLSXWriter{file: f, next: 1}
	if err := w.writeRow(header); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends one record row.
func (w *XLSXWriter) Write(rec *db.UidRecord) error {
	return w.writeRow(row(rec))
}

func (w *XLSXWriter) writeRow(values []string) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, w.next)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := w.file.SetCellValue(xlsxSheet, cell, v); err != nil {
			return fmt.Errorf("set cell %s: %w", cell, err)
		}
	}
	w.next++
	return nil
}

// WriteTo serializes the workbook to w and releases its resources.
func (w *XLSXWriter) WriteTo(out io.Writer) error {
	defer func() { _ = w.file.Close() }()
	if err := w.file.Write(out); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
