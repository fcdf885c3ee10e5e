package tenancy

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all tenancy migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create tenants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id VARCHAR(64) PRIMARY KEY,
					display_name VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create tenant_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenant_members (
					id BIGSERIAL PRIMARY KEY,
					principal_id VARCHAR(128) NOT NULL,
					tenant_id VARCHAR(64) NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					role VARCHAR(32) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(principal_id, tenant_id)
				);

				CREATE INDEX IF NOT EXISTS idx_tenant_members_principal_id ON tenant_members(principal_id);
				CREATE INDEX IF NOT EXISTS idx_tenant_members_tenant_id ON tenant_members(tenant_id);
			`,
		},
		{
			Version:     3,
			Description: "Create tenant_modules table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenant_modules (
					id BIGSERIAL PRIMARY KEY,
					tenant_id VARCHAR(64) NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					module_code VARCHAR(64) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					activated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, module_code)
				);

				CREATE INDEX IF NOT EXISTS idx_tenant_modules_tenant_id ON tenant_modules(tenant_id);
			`,
		},
		{
			Version:     4,
			Description: "Create role_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					id BIGSERIAL PRIMARY KEY,
					tenant_id VARCHAR(64) NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					role VARCHAR(32) NOT NULL,
					module_code VARCHAR(64) NOT NULL,
					action VARCHAR(32) NOT NULL,
					granted BOOLEAN NOT NULL DEFAULT FALSE,
					UNIQUE(tenant_id, role, module_code, action)
				);

				CREATE INDEX IF NOT EXISTS idx_role_permissions_tenant_id ON role_permissions(tenant_id);
				CREATE INDEX IF NOT EXISTS idx_role_permissions_lookup ON role_permissions(tenant_id, role, module_code);
			`,
		},
	}
}

// RunMigrations applies all tenancy migrations in order
func RunMigrations(ctx context.Context, db *sql.DB) error {
	for _, m := range GetMigrations() {
		if _, err := db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
	}
	return nil
}
