// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/smart-attendance/internal/database"
	"github.com/kozaktomas/smart-attendance/internal/facematch"
)

// MockIdentityStore is a mock implementation of database.IdentityStore
type MockIdentityStore struct {
	mu         sync.RWMutex
	identities []*database.Identity // insertion order, inactive entries kept

	// Error injection
	ListError       error
	GetError        error
	CountError      error
	CreateError     error
	DeactivateError error

	// ListOwnersCalls counts ListEncodingOwners invocations
	ListOwnersCalls int
}

// NewMockIdentityStore creates a new mock identity store
func NewMockIdentityStore() *MockIdentityStore {
	return &MockIdentityStore{}
}

// AddIdentity adds an active identity to the mock store
func (m *MockIdentityStore) AddIdentity(ident database.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident.Active = true
	ident.EncodingsCount = len(ident.Encodings)
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = time.Now()
	}
	m.identities = append(m.identities, &ident)
}

func inClass(ident *database.Identity, classCode string) bool {
	return classCode == "" || ident.ClassCode == classCode
}

func copyIdentity(ident *database.Identity, withEncodings bool) database.Identity {
	out := *ident
	out.Encodings = nil
	if withEncodings {
		out.Encodings = make([]facematch.Encoding, len(ident.Encodings))
		for i, e := range ident.Encodings {
			out.Encodings[i] = slices.Clone(e)
		}
	}
	return out
}

// ListEncodingOwners returns active identities with encodings
func (m *MockIdentityStore) ListEncodingOwners(_ context.Context, classCode string) ([]database.Identity, error) {
	m.mu.Lock()
	m.ListOwnersCalls++
	m.mu.Unlock()
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []database.Identity
	for _, ident := range m.identities {
		if ident.Active && inClass(ident, classCode) && len(ident.Encodings) > 0 {
			result = append(result, copyIdentity(ident, true))
		}
	}
	return result, nil
}

// ListIdentities returns active identities without encodings
func (m *MockIdentityStore) ListIdentities(_ context.Context, classCode string) ([]database.Identity, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []database.Identity
	for _, ident := range m.identities {
		if ident.Active && inClass(ident, classCode) {
			result = append(result, copyIdentity(ident, false))
		}
	}
	return result, nil
}

// GetIdentity returns an active identity or nil
func (m *MockIdentityStore) GetIdentity(_ context.Context, classCode, userID string) (*database.Identity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ident := range m.identities {
		if ident.Active && inClass(ident, classCode) && ident.UserID == userID {
			out := copyIdentity(ident, false)
			return &out, nil
		}
	}
	return nil, nil
}

// CountIdentities returns the number of active identities
func (m *MockIdentityStore) CountIdentities(_ context.Context, classCode string) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ident := range m.identities {
		if ident.Active && inClass(ident, classCode) {
			n++
		}
	}
	return n, nil
}

// CreateIdentity stores the identity, rejecting any user id ever used in the class
func (m *MockIdentityStore) CreateIdentity(_ context.Context, ident *database.Identity) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.identities {
		if existing.ClassCode == ident.ClassCode && existing.UserID == ident.UserID {
			return fmt.Errorf("identity %s in %s: %w", ident.UserID, ident.ClassCode, database.ErrDuplicate)
		}
	}
	ident.Active = true
	ident.EncodingsCount = len(ident.Encodings)
	ident.CreatedAt = time.Now()
	stored := copyIdentity(ident, true)
	m.identities = append(m.identities, &stored)
	return nil
}

// DeactivateIdentity soft-deletes matching identities and drops their encodings
func (m *MockIdentityStore) DeactivateIdentity(_ context.Context, classCode, userID string) (bool, error) {
	if m.DeactivateError != nil {
		return false, m.DeactivateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, ident := range m.identities {
		if ident.Active && inClass(ident, classCode) && ident.UserID == userID {
			ident.Active = false
			ident.Encodings = nil
			ident.EncodingsCount = 0
			found = true
		}
	}
	return found, nil
}

// MockAttendanceStore is a mock implementation of database.AttendanceStore
type MockAttendanceStore struct {
	mu      sync.RWMutex
	records []database.AttendanceRecord

	// Error injection
	RecordError error
	ListError   error
}

// NewMockAttendanceStore creates a new mock attendance store
func NewMockAttendanceStore() *MockAttendanceStore {
	return &MockAttendanceStore{}
}

// AddRecord adds a record without the once-per-day check
func (m *MockAttendanceStore) AddRecord(rec database.AttendanceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.records = append(m.records, rec)
}

// Records returns a copy of all stored records
func (m *MockAttendanceStore) Records() []database.AttendanceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.records)
}

// RecordAttendanceOnce stores rec unless the user already has a record that day
func (m *MockAttendanceStore) RecordAttendanceOnce(_ context.Context, rec database.AttendanceRecord) (database.MarkResult, error) {
	if m.RecordError != nil {
		return database.MarkResult{}, m.RecordError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.UserID == rec.UserID && existing.ClassCode == rec.ClassCode && existing.Date == rec.Date {
			return database.MarkResult{AlreadyMarked: true, Record: existing}, nil
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.records = append(m.records, rec)
	return database.MarkResult{Record: rec}, nil
}

// ListAttendance filters and orders records the same way the PostgreSQL repository does
func (m *MockAttendanceStore) ListAttendance(_ context.Context, f database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	var result []database.AttendanceRecord
	for _, r := range m.records {
		switch {
		case f.ClassCode != "" && r.ClassCode != f.ClassCode,
			f.UserID != "" && r.UserID != f.UserID,
			f.Date != "" && r.Date != f.Date,
			f.StartDate != "" && r.Date < f.StartDate,
			f.EndDate != "" && r.Date > f.EndDate:
			continue
		}
		result = append(result, r)
	}
	m.mu.RUnlock()

	switch {
	case f.Date != "":
		slices.SortStableFunc(result, func(a, b database.AttendanceRecord) int {
			return strings.Compare(a.Time, b.Time)
		})
	case f.StartDate != "" || f.EndDate != "":
		slices.SortStableFunc(result, func(a, b database.AttendanceRecord) int {
			if c := strings.Compare(b.Date, a.Date); c != 0 {
				return c
			}
			return strings.Compare(a.Time, b.Time)
		})
	default:
		slices.SortStableFunc(result, func(a, b database.AttendanceRecord) int {
			return b.Timestamp.Compare(a.Timestamp)
		})
	}
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

// MockTenantStore is a mock implementation of database.TenantStore
type MockTenantStore struct {
	mu      sync.RWMutex
	tenants map[string]database.Tenant

	// Error injection
	FindError error
	ListError error
}

// NewMockTenantStore creates a new mock tenant store
func NewMockTenantStore() *MockTenantStore {
	return &MockTenantStore{tenants: make(map[string]database.Tenant)}
}

// AddTenant adds a tenant to the mock store
func (m *MockTenantStore) AddTenant(t database.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.Code] = t
}

// FindTenant returns the tenant or nil
func (m *MockTenantStore) FindTenant(_ context.Context, code string) (*database.Tenant, error) {
	if m.FindError != nil {
		return nil, m.FindError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[code]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// ListTenants returns tenants with the given role ordered by code
func (m *MockTenantStore) ListTenants(_ context.Context, role database.Role) ([]database.Tenant, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []database.Tenant
	for _, t := range m.tenants {
		if t.Role == role {
			result = append(result, t)
		}
	}
	slices.SortFunc(result, func(a, b database.Tenant) int { return strings.Compare(a.Code, b.Code) })
	return result, nil
}

// MockSessionStore is a mock implementation of database.SessionStore
type MockSessionStore struct {
	mu       sync.RWMutex
	sessions map[string]database.StoredSession

	// Error injection
	SaveError   error
	GetError    error
	DeleteError error
}

// NewMockSessionStore creates a new mock session store
func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{sessions: make(map[string]database.StoredSession)}
}

// SaveSession stores a session
func (m *MockSessionStore) SaveSession(_ context.Context, s database.StoredSession) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

// GetSession returns a live session or nil
func (m *MockSessionStore) GetSession(_ context.Context, id string) (*database.StoredSession, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok || !s.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	return &s, nil
}

// Count returns the number of stored sessions, expired ones included
func (m *MockSessionStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// DeleteSession removes a session
func (m *MockSessionStore) DeleteSession(_ context.Context, id string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// DeleteExpiredSessions removes expired sessions
func (m *MockSessionStore) DeleteExpiredSessions(_ context.Context) (int64, error) {
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for id, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

var (
	_ database.IdentityStore   = (*MockIdentityStore)(nil)
	_ database.AttendanceStore = (*MockAttendanceStore)(nil)
	_ database.TenantStore     = (*MockTenantStore)(nil)
	_ database.SessionStore    = (*MockSessionStore)(nil)
)
