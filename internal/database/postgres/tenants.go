package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/smart-attendance/internal/database"
)

// TenantRepository provides read access to login accounts
type TenantRepository struct {
	pool *Pool
}

var _ database.TenantStore = (*TenantRepository)(nil)

// NewTenantRepository creates a new PostgreSQL tenant repository
func NewTenantRepository(pool *Pool) *TenantRepository {
	return &TenantRepository{pool: pool}
}

// FindTenant returns the tenant with the given code, nil if not found
func (r *TenantRepository) FindTenant(ctx context.Context, code string) (*database.Tenant, error) {
	var t database.Tenant
	err := r.pool.QueryRow(ctx,
		"SELECT code, name, department, role, password_hash FROM tenants WHERE code = $1", code,
	).Scan(&t.Code, &t.Name, &t.Department, &t.Role, &t.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find tenant: %w", err)
	}
	return &t, nil
}

// ListTenants returns tenants with the given role ordered by code
func (r *TenantRepository) ListTenants(ctx context.Context, role database.Role) ([]database.Tenant, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT code, name, department, role FROM tenants WHERE role = $1 ORDER BY code", string(role))
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var result []database.Tenant
	for rows.Next() {
		var t database.Tenant
		if err := rows.Scan(&t.Code, &t.Name, &t.Department, &t.Role); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return result, nil
}
