package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/smart-attendance/internal/database"
	"github.com/kozaktomas/smart-attendance/internal/facematch"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// IdentityRepository provides PostgreSQL-backed storage of enrolled identities
// and their face encodings
type IdentityRepository struct {
	pool *Pool
}

var _ database.IdentityStore = (*IdentityRepository)(nil)

// NewIdentityRepository creates a new PostgreSQL identity repository
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

const identityColumns = `i.user_id, i.name, i.email, i.department, i.class_code, COALESCE(t.name, ''), i.active, i.created_at`

func scanIdentity(row interface{ Scan(...any) error }, id *database.Identity) error {
	return row.Scan(&id.UserID, &id.Name, &id.Email, &id.Department, &id.ClassCode, &id.ClassName, &id.Active, &id.CreatedAt)
}

// ListEncodingOwners returns active identities with their encodings ordered by index
func (r *IdentityRepository) ListEncodingOwners(ctx context.Context, classCode string) ([]database.Identity, error) {
	query := `
		SELECT i.id, ` + identityColumns + `, e.encoding
		FROM identities i
		LEFT JOIN tenants t ON t.code = i.class_code
		JOIN face_encodings e ON e.identity_id = i.id
		WHERE i.active AND ($1 = '' OR i.class_code = $1)
		ORDER BY i.id, e.encoding_index
	`

	rows, err := r.pool.Query(ctx, query, classCode)
	if err != nil {
		return nil, fmt.Errorf("query encoding owners: %w", err)
	}
	defer rows.Close()

	var result []database.Identity
	lastID := int64(-1)
	for rows.Next() {
		var (
			rowID int64
			ident database.Identity
			vec   pgvector.Vector
		)
		if err := rows.Scan(&rowID, &ident.UserID, &ident.Name, &ident.Email, &ident.Department,
			&ident.ClassCode, &ident.ClassName, &ident.Active, &ident.CreatedAt, &vec); err != nil {
			return nil, fmt.Errorf("scan encoding owner: %w", err)
		}
		if rowID != lastID {
			result = append(result, ident)
			lastID = rowID
		}
		cur := &result[len(result)-1]
		cur.Encodings = append(cur.Encodings, facematch.Encoding(vec.Slice()))
		cur.EncodingsCount = len(cur.Encodings)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate encoding owners: %w", err)
	}
	return result, nil
}

// ListIdentities returns active identities with their encoding counts
func (r *IdentityRepository) ListIdentities(ctx context.Context, classCode string) ([]database.Identity, error) {
	query := `
		SELECT ` + identityColumns + `,
			(SELECT COUNT(*) FROM face_encodings e WHERE e.identity_id = i.id)
		FROM identities i
		LEFT JOIN tenants t ON t.code = i.class_code
		WHERE i.active AND ($1 = '' OR i.class_code = $1)
		ORDER BY i.class_code, i.name
	`

	rows, err := r.pool.Query(ctx, query, classCode)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var result []database.Identity
	for rows.Next() {
		var ident database.Identity
		if err := rows.Scan(&ident.UserID, &ident.Name, &ident.Email, &ident.Department,
			&ident.ClassCode, &ident.ClassName, &ident.Active, &ident.CreatedAt, &ident.EncodingsCount); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		result = append(result, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return result, nil
}

// GetIdentity returns an active identity, nil if not found
func (r *IdentityRepository) GetIdentity(ctx context.Context, classCode, userID string) (*database.Identity, error) {
	query := `
		SELECT ` + identityColumns + `
		FROM identities i
		LEFT JOIN tenants t ON t.code = i.class_code
		WHERE i.active AND i.user_id = $2 AND ($1 = '' OR i.class_code = $1)
		ORDER BY i.id
		LIMIT 1
	`

	var ident database.Identity
	err := scanIdentity(r.pool.QueryRow(ctx, query, classCode, userID), &ident)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &ident, nil
}

// CountIdentities returns the number of active identities
func (r *IdentityRepository) CountIdentities(ctx context.Context, classCode string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM identities WHERE active AND ($1 = '' OR class_code = $1)", classCode).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// CreateIdentity inserts the identity and its encodings in one transaction
func (r *IdentityRepository) CreateIdentity(ctx context.Context, ident *database.Identity) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO identities (class_code, user_id, name, email, department)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, ident.ClassCode, ident.UserID, ident.Name, ident.Email, ident.Department).Scan(&id, &ident.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("identity %s in %s: %w", ident.UserID, ident.ClassCode, database.ErrDuplicate)
		}
		return fmt.Errorf("insert identity: %w", err)
	}

	for i, enc := range ident.Encodings {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO face_encodings (identity_id, encoding_index, encoding) VALUES ($1, $2, $3)",
			id, i, pgvector.NewVector(enc)); err != nil {
			return fmt.Errorf("insert encoding %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit identity: %w", err)
	}
	ident.Active = true
	ident.EncodingsCount = len(ident.Encodings)
	return nil
}

// DeactivateIdentity marks the identity inactive and drops its encodings
func (r *IdentityRepository) DeactivateIdentity(ctx context.Context, classCode, userID string) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	rows, err := tx.QueryContext(ctx, `
		UPDATE identities SET active = FALSE
		WHERE active AND user_id = $2 AND ($1 = '' OR class_code = $1)
		RETURNING id
	`, classCode, userID)
	if err != nil {
		return false, fmt.Errorf("deactivate identity: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return false, fmt.Errorf("scan deactivated id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterate deactivated ids: %w", err)
	}
	if len(ids) == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM face_encodings WHERE identity_id = ANY($1)", pq.Array(ids)); err != nil {
		return false, fmt.Errorf("delete encodings: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit deactivation: %w", err)
	}
	return true, nil
}
