package database

import (
	"context"
)

// IdentityReader provides read-only access to enrolled identities
type IdentityReader interface {
	// ListEncodingOwners returns the active identities of a class together with
	// their encodings ordered by enrollment index. An empty class code lists
	// every class.
	ListEncodingOwners(ctx context.Context, classCode string) ([]Identity, error)
	// ListIdentities returns active identities with EncodingsCount set but
	// without loading the encodings themselves
	ListIdentities(ctx context.Context, classCode string) ([]Identity, error)
	// GetIdentity returns an active identity, or nil if not found
	GetIdentity(ctx context.Context, classCode, userID string) (*Identity, error)
	// CountIdentities returns the number of active identities in a class (all classes if empty)
	CountIdentities(ctx context.Context, classCode string) (int, error)
}

// IdentityStore provides write access to enrolled identities
type IdentityStore interface {
	IdentityReader

	// CreateIdentity stores an identity with its encodings.
	// Returns ErrDuplicate if the user id was ever registered in the class.
	CreateIdentity(ctx context.Context, identity *Identity) error
	// DeactivateIdentity soft-deletes an identity and removes its encodings.
	// Returns false if no such identity exists.
	DeactivateIdentity(ctx context.Context, classCode, userID string) (bool, error)
}

// AttendanceReader provides read-only access to attendance records
type AttendanceReader interface {
	// ListAttendance returns records matching the filter. A single date is
	// ordered by time, a date range by date descending then time, and an
	// unbounded query puts the most recent first.
	ListAttendance(ctx context.Context, filter AttendanceFilter) ([]AttendanceRecord, error)
}

// AttendanceStore provides write access to attendance records
type AttendanceStore interface {
	AttendanceReader

	// RecordAttendanceOnce stores rec unless the same user already has a
	// record for rec.Date in rec.ClassCode, in which case the existing record
	// is returned with AlreadyMarked set.
	RecordAttendanceOnce(ctx context.Context, rec AttendanceRecord) (MarkResult, error)
}

// TenantStore provides access to login accounts
type TenantStore interface {
	// FindTenant returns the tenant with the given code, or nil if not found
	FindTenant(ctx context.Context, code string) (*Tenant, error)
	// ListTenants returns tenants with the given role ordered by code
	ListTenants(ctx context.Context, role Role) ([]Tenant, error)
}

// SessionStore persists login sessions across restarts
type SessionStore interface {
	SaveSession(ctx context.Context, s StoredSession) error
	// GetSession returns nil if the session does not exist or has expired
	GetSession(ctx context.Context, id string) (*StoredSession, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}
