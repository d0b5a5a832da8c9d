// Package constants provides shared constants used across the codebase.
package constants

// Attendance constants
const (
	// MinRegistrationImages is the fewest images accepted by a registration
	MinRegistrationImages = 10

	// MaxRegistrationImages is the most images a single registration may carry
	MaxRegistrationImages = 30

	// MinRegistrationEncodings is the fewest valid encodings a registration must yield
	MinRegistrationEncodings = 5

	// DefaultAttendanceListLimit is the number of records returned without a date filter
	DefaultAttendanceListLimit = 100

	// HistoryWindowDays is the denominator of the per-user attendance rate
	HistoryWindowDays = 30
)

// Handler constants
const (
	// MaxRequestBodySize caps JSON bodies carrying base64 frames (64MB)
	MaxRequestBodySize = 64 << 20

	// MaxStreamFrameSize caps a single websocket frame message (8MB)
	MaxStreamFrameSize = 8 << 20

	// StreamWindowFrames is the most frames a liveness stream buffers before
	// giving up on a blink and starting over
	StreamWindowFrames = 15
)

// Date and time layouts used in storage and responses
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)
