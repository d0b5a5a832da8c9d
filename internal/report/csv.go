// Package report renders attendance records for download.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/kozaktomas/smart-attendance/internal/constants"
	"github.com/kozaktomas/smart-attendance/internal/database"
)

// Header is the first row of every export.
var Header = []string{"User ID", "Name", "Class", "Date", "Time", "Day", "Status"}

// LateFunc reports whether a record counts as a late arrival.
type LateFunc func(rec database.AttendanceRecord) bool

// WriteCSV writes records sorted by date descending then time ascending.
// The input slice is not modified.
func WriteCSV(w io.Writer, records []database.AttendanceRecord, isLate LateFunc) error {
	sorted := slices.Clone(records)
	SortForExport(sorted)

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range sorted {
		status := "On Time"
		if isLate != nil && isLate(rec) {
			status = "Late"
		}
		row := []string{rec.UserID, rec.Name, rec.ClassCode, rec.Date, rec.Time, weekday(rec.Date), status}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write record %s: %w", rec.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// SortForExport orders records by date descending then time ascending.
func SortForExport(records []database.AttendanceRecord) {
	slices.SortStableFunc(records, func(a, b database.AttendanceRecord) int {
		if c := strings.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		return strings.Compare(a.Time, b.Time)
	})
}

// Filename returns the download name for an export generated at now.
func Filename(classCode string, now time.Time) string {
	if classCode == "" {
		classCode = "all"
	}
	return fmt.Sprintf("attendance_%s_%s.csv", classCode, now.Format("20060102_150405"))
}

func weekday(date string) string {
	d, err := time.Parse(constants.DateLayout, date)
	if err != nil {
		return ""
	}
	return d.Weekday().String()
}
