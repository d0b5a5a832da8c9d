package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/smart-attendance/internal/database"
)

// SessionRepository provides PostgreSQL-backed session storage
type SessionRepository struct {
	pool *Pool
}

var _ database.SessionStore = (*SessionRepository)(nil)

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(pool *Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// SaveSession stores a session in the database
func (r *SessionRepository) SaveSession(ctx context.Context, s database.StoredSession) error {
	query := `
		INSERT INTO sessions (id, class_code, class_name, department, role, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			class_code = EXCLUDED.class_code,
			class_name = EXCLUDED.class_name,
			department = EXCLUDED.department,
			role = EXCLUDED.role,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`

	_, err := r.pool.Exec(ctx, query, s.ID, s.ClassCode, s.ClassName, s.Department, string(s.Role), s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID, returns nil if not found or expired
func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*database.StoredSession, error) {
	query := `
		SELECT id, class_code, class_name, department, role, created_at, expires_at
		FROM sessions
		WHERE id = $1 AND expires_at > NOW()
	`

	var s database.StoredSession
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&s.ID,
		&s.ClassCode,
		&s.ClassName,
		&s.Department,
		&s.Role,
		&s.CreatedAt,
		&s.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	return &s, nil
}

// DeleteSession removes a session from the database
func (r *SessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM sessions WHERE id = $1", sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes all expired sessions and returns the count deleted
func (r *SessionRepository) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, "DELETE FROM sessions WHERE expires_at <= NOW()")
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return count, nil
}
