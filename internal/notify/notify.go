// Package notify sends attendance notifications.
package notify

import (
	"context"
	"time"

	"github.com/kozaktomas/smart-attendance/internal/database"
)

// Notifier receives attendance events after they are committed. Callers log
// returned errors and carry on.
type Notifier interface {
	AttendanceMarked(ctx context.Context, ident database.Identity, at time.Time) error
	LateArrival(ctx context.Context, ident database.Identity, at time.Time) error
}

// Noop discards every notification.
type Noop struct{}

func (Noop) AttendanceMarked(context.Context, database.Identity, time.Time) error { return nil }
func (Noop) LateArrival(context.Context, database.Identity, time.Time) error      { return nil }
