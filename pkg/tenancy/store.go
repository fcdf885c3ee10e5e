package tenancy

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tillworks/accessgate/pkg/entitlement"
)

// PostgresStore implements MembershipStore over database/sql
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ListMemberships lists all tenant memberships for a principal
func (s *PostgresStore) ListMemberships(ctx context.Context, principalID string) ([]Membership, error) {
	query := `
		SELECT tm.principal_id, tm.tenant_id, t.display_name, tm.role
		FROM tenant_members tm
		JOIN tenants t ON t.id = tm.tenant_id
		WHERE tm.principal_id = $1
		ORDER BY tm.created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		var m Membership
		var role string
		if err := rows.Scan(&m.PrincipalID, &m.TenantID, &m.TenantName, &role); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		parsed, err := entitlement.ParseRole(role)
		if err != nil {
			return nil, fmt.Errorf("membership for tenant %s: %w", m.TenantID, err)
		}
		m.Role = parsed
		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

// TenantEntitlements loads the active module set and role permission matrix
// for a tenant. The matrix is tenant-scoped data: custom plans may alter it.
func (s *PostgresStore) TenantEntitlements(ctx context.Context, tenantID string) (entitlement.ModuleSet, entitlement.Matrix, error) {
	modules, err := s.activeModules(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}

	matrix, err := s.permissionMatrix(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}

	return modules, matrix, nil
}

// activeModules loads the tenant's activated module codes
func (s *PostgresStore) activeModules(ctx context.Context, tenantID string) (entitlement.ModuleSet, error) {
	query := `
		SELECT module_code
		FROM tenant_modules
		WHERE tenant_id = $1 AND is_active = TRUE
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active modules: %w", err)
	}
	defer rows.Close()

	modules := make(entitlement.ModuleSet)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan module code: %w", err)
		}
		modules[entitlement.ModuleCode(code)] = struct{}{}
	}

	return modules, rows.Err()
}

// permissionMatrix loads the tenant's dense role permission grid
func (s *PostgresStore) permissionMatrix(ctx context.Context, tenantID string) (entitlement.Matrix, error) {
	query := `
		SELECT role, module_code, action, granted
		FROM role_permissions
		WHERE tenant_id = $1
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load permission matrix: %w", err)
	}
	defer rows.Close()

	matrix := make(entitlement.Matrix)
	for rows.Next() {
		var role, module, action string
		var granted bool
		if err := rows.Scan(&role, &module, &action, &granted); err != nil {
			return nil, fmt.Errorf("failed to scan permission row: %w", err)
		}
		if !granted {
			// dense matrix rows carry explicit denies; absence already denies
			continue
		}

		parsedRole, err := entitlement.ParseRole(role)
		if err != nil {
			return nil, fmt.Errorf("permission row for tenant %s: %w", tenantID, err)
		}
		parsedAction, err := entitlement.ParseAction(action)
		if err != nil {
			return nil, fmt.Errorf("permission row for tenant %s: %w", tenantID, err)
		}
		matrix.Grant(parsedRole, entitlement.ModuleCode(module), parsedAction)
	}

	return matrix, rows.Err()
}

// GetTenant loads a tenant's display name and sole-membership hint
func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT display_name FROM tenants WHERE id = $1`, tenantID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("tenant not found")
	}
	if err != nil {
		return "", fmt.Errorf("failed to get tenant: %w", err)
	}
	return name, nil
}
