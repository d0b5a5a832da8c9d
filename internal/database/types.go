package database

import (
	"errors"
	"time"

	"github.com/kozaktomas/smart-attendance/internal/facematch"
)

// ErrDuplicate is returned when an identity with the same user id already
// exists in the class.
var ErrDuplicate = errors.New("already exists")

// Role controls what a tenant session may read.
type Role string

const (
	RoleClass   Role = "class"
	RoleFaculty Role = "faculty"
	RoleAdmin   Role = "admin"
)

// Tenant is a login account: a class, a faculty member or an administrator.
type Tenant struct {
	Code         string
	Name         string
	Department   string
	Role         Role
	PasswordHash string // bcrypt
}

// Identity is an enrolled person and, when loaded for matching, their
// reference encodings ordered by enrollment index.
type Identity struct {
	UserID         string
	Name           string
	Email          string
	Department     string
	ClassCode      string
	ClassName      string
	Active         bool
	CreatedAt      time.Time
	EncodingsCount int
	Encodings      []facematch.Encoding
}

// AttendanceRecord is one attendance event. Date is YYYY-MM-DD and Time is
// HH:MM:SS in the server's local time.
type AttendanceRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	ClassCode string    `json:"class_code"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Timestamp time.Time `json:"timestamp"`
}

// MarkResult is returned by RecordAttendanceOnce. When AlreadyMarked is set,
// Record is the earlier record of the day.
type MarkResult struct {
	AlreadyMarked bool
	Record        AttendanceRecord
}

// AttendanceFilter narrows attendance queries. Empty fields match everything.
type AttendanceFilter struct {
	ClassCode string
	UserID    string
	Date      string // exact day
	StartDate string // inclusive range, used together with EndDate
	EndDate   string
	Limit     int // 0 means no limit
}

// StoredSession is a persisted login session.
type StoredSession struct {
	ID         string
	ClassCode  string
	ClassName  string
	Department string
	Role       Role
	CreatedAt  time.Time
	ExpiresAt  time.Time
}
