package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kozaktomas/smart-attendance/internal/database"
)

// AttendanceRepository provides PostgreSQL-backed attendance records
type AttendanceRepository struct {
	pool *Pool
}

var _ database.AttendanceStore = (*AttendanceRepository)(nil)

// NewAttendanceRepository creates a new PostgreSQL attendance repository
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

const attendanceColumns = `id, user_id, name, class_code, to_char(date, 'YYYY-MM-DD'), time, recorded_at`

func scanAttendance(row interface{ Scan(...any) error }, rec *database.AttendanceRecord) error {
	return row.Scan(&rec.ID, &rec.UserID, &rec.Name, &rec.ClassCode, &rec.Date, &rec.Time, &rec.Timestamp)
}

// RecordAttendanceOnce inserts the record unless one exists for the same
// user, class and day. The unique constraint arbitrates concurrent marks.
func (r *AttendanceRepository) RecordAttendanceOnce(ctx context.Context, rec database.AttendanceRecord) (database.MarkResult, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO attendance (id, user_id, name, class_code, date, time, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, class_code, date) DO NOTHING
		RETURNING recorded_at
	`, rec.ID, rec.UserID, rec.Name, rec.ClassCode, rec.Date, rec.Time, rec.Timestamp).Scan(&rec.Timestamp)
	if err == nil {
		return database.MarkResult{Record: rec}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return database.MarkResult{}, fmt.Errorf("insert attendance: %w", err)
	}

	var existing database.AttendanceRecord
	err = scanAttendance(r.pool.QueryRow(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance
		WHERE user_id = $1 AND class_code = $2 AND date = $3
	`, rec.UserID, rec.ClassCode, rec.Date), &existing)
	if err != nil {
		return database.MarkResult{}, fmt.Errorf("load existing attendance: %w", err)
	}
	return database.MarkResult{AlreadyMarked: true, Record: existing}, nil
}

// ListAttendance returns records matching the filter
func (r *AttendanceRepository) ListAttendance(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.ClassCode != "" {
		add("class_code = $%d", filter.ClassCode)
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Date != "" {
		add("date = $%d", filter.Date)
	}
	if filter.StartDate != "" {
		add("date >= $%d", filter.StartDate)
	}
	if filter.EndDate != "" {
		add("date <= $%d", filter.EndDate)
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + attendanceColumns + " FROM attendance")
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	switch {
	case filter.Date != "":
		sb.WriteString(" ORDER BY time ASC")
	case filter.StartDate != "" || filter.EndDate != "":
		sb.WriteString(" ORDER BY date DESC, time ASC")
	default:
		sb.WriteString(" ORDER BY recorded_at DESC")
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var result []database.AttendanceRecord
	for rows.Next() {
		var rec database.AttendanceRecord
		if err := scanAttendance(rows, &rec); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return result, nil
}
