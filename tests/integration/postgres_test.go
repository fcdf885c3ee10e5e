package integration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tillworks/accessgate/pkg/audit"
	"github.com/tillworks/accessgate/pkg/entitlement"
	"github.com/tillworks/accessgate/pkg/observability"
	"github.com/tillworks/accessgate/pkg/tenancy"
)

// setupPostgresDB starts a PostgreSQL container and applies all migrations.
func setupPostgresDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("accessgate_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Skipping integration test, could not start container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	require.NoError(t, tenancy.RunMigrations(ctx, db), "Failed to run tenancy migrations")
	require.NoError(t, audit.Migrate(ctx, db), "Failed to run audit migrations")

	cleanup := func() {
		db.Close()
		termCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(termCtx); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

// seedTenantData inserts two tenants, a shared principal, module activations
// and a permission grid for the first tenant.
func seedTenantData(t *testing.T, db *sql.DB) {
	t.Helper()

	stmts := []struct {
		query string
		args  []interface{}
	}{
		{`INSERT INTO tenants (id, display_name) VALUES ($1, $2)`, []interface{}{"t-coffee", "Coffee Roasters"}},
		{`INSERT INTO tenants (id, display_name) VALUES ($1, $2)`, []interface{}{"t-bakery", "Corner Bakery"}},
		{`INSERT INTO tenant_members (principal_id, tenant_id, role) VALUES ($1, $2, $3)`, []interface{}{"p-100", "t-coffee", "cashier"}},
		{`INSERT INTO tenant_members (principal_id, tenant_id, role) VALUES ($1, $2, $3)`, []interface{}{"p-100", "t-bakery", "manager"}},
		{`INSERT INTO tenant_modules (tenant_id, module_code, is_active) VALUES ($1, $2, $3)`, []interface{}{"t-coffee", "inventory", true}},
		{`INSERT INTO tenant_modules (tenant_id, module_code, is_active) VALUES ($1, $2, $3)`, []interface{}{"t-coffee", "loyalty", true}},
		{`INSERT INTO tenant_modules (tenant_id, module_code, is_active) VALUES ($1, $2, $3)`, []interface{}{"t-coffee", "payroll", false}},
		{`INSERT INTO role_permissions (tenant_id, role, module_code, action, granted) VALUES ($1, $2, $3, $4, $5)`, []interface{}{"t-coffee", "cashier", "point_of_sale", "view", true}},
		{`INSERT INTO role_permissions (tenant_id, role, module_code, action, granted) VALUES ($1, $2, $3, $4, $5)`, []interface{}{"t-coffee", "cashier", "inventory", "view", true}},
		{`INSERT INTO role_permissions (tenant_id, role, module_code, action, granted) VALUES ($1, $2, $3, $4, $5)`, []interface{}{"t-coffee", "cashier", "payroll", "view", false}},
	}

	for _, s := range stmts {
		if _, err := db.Exec(s.query, s.args...); err != nil {
			t.Fatalf("Failed to seed data: %v", err)
		}
	}
}

func TestPostgresStoreListMemberships(t *testing.T) {
	db, cleanup := setupPostgresDB(t)
	defer cleanup()
	seedTenantData(t, db)

	store := tenancy.NewPostgresStore(db)
	ctx := context.Background()

	memberships, err := store.ListMemberships(ctx, "p-100")
	if err != nil {
		t.Fatalf("ListMemberships failed: %v", err)
	}
	if len(memberships) != 2 {
		t.Fatalf("Expected 2 memberships, got %d", len(memberships))
	}
	if memberships[0].TenantID != "t-coffee" || memberships[0].Role != entitlement.RoleCashier {
		t.Errorf("Unexpected first membership: %+v", memberships[0])
	}
	if memberships[0].TenantName != "Coffee Roasters" {
		t.Errorf("Expected joined display name, got %q", memberships[0].TenantName)
	}
	if memberships[1].TenantID != "t-bakery" || memberships[1].Role != entitlement.RoleManager {
		t.Errorf("Unexpected second membership: %+v", memberships[1])
	}

	none, err := store.ListMemberships(ctx, "p-unknown")
	if err != nil {
		t.Fatalf("ListMemberships for unknown principal failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no memberships for unknown principal, got %d", len(none))
	}
}

func TestPostgresStoreTenantEntitlements(t *testing.T) {
	db, cleanup := setupPostgresDB(t)
	defer cleanup()
	seedTenantData(t, db)

	store := tenancy.NewPostgresStore(db)
	ctx := context.Background()

	modules, matrix, err := store.TenantEntitlements(ctx, "t-coffee")
	if err != nil {
		t.Fatalf("TenantEntitlements failed: %v", err)
	}

	if len(modules) != 2 {
		t.Fatalf("Expected 2 active modules, got %d", len(modules))
	}
	if _, ok := modules[entitlement.ModuleInventory]; !ok {
		t.Error("Expected inventory to be active")
	}
	if _, ok := modules[entitlement.ModulePayroll]; ok {
		t.Error("Inactive payroll module should not be loaded")
	}

	if !matrix.Granted(entitlement.RoleCashier, entitlement.ModulePointOfSale, entitlement.ActionView) {
		t.Error("Expected cashier point_of_sale view grant")
	}
	if matrix.Granted(entitlement.RoleCashier, entitlement.ModulePayroll, entitlement.ActionView) {
		t.Error("Explicit granted=false row should read as denied")
	}
	if matrix.Granted(entitlement.RoleManager, entitlement.ModulePointOfSale, entitlement.ActionView) {
		t.Error("Absent matrix row should read as denied")
	}
}

func TestPostgresStoreGetTenant(t *testing.T) {
	db, cleanup := setupPostgresDB(t)
	defer cleanup()
	seedTenantData(t, db)

	store := tenancy.NewPostgresStore(db)
	ctx := context.Background()

	name, err := store.GetTenant(ctx, "t-bakery")
	if err != nil {
		t.Fatalf("GetTenant failed: %v", err)
	}
	if name != "Corner Bakery" {
		t.Errorf("Expected 'Corner Bakery', got %q", name)
	}

	if _, err := store.GetTenant(ctx, "t-missing"); err == nil {
		t.Error("Expected error for missing tenant")
	}
}

func TestAuditTrailRoundTrip(t *testing.T) {
	db, cleanup := setupPostgresDB(t)
	defer cleanup()

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	auditor := audit.NewLogger(db, logger)

	ctx := context.Background()
	auditor.RecordDecision(ctx, "p-100", "t-coffee", entitlement.ModulePayroll, entitlement.ActionView, entitlement.Decision{
		Allowed: false,
		Reason:  entitlement.ReasonModuleInactive,
	})
	auditor.Close()

	reader := audit.NewLogger(db, logger)
	defer reader.Close()

	entries, err := reader.Recent(ctx, "p-100", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.TenantID != "t-coffee" || e.Module != entitlement.ModulePayroll || e.Allowed {
		t.Errorf("Unexpected audit entry: %+v", e)
	}
	if e.Reason != entitlement.ReasonModuleInactive {
		t.Errorf("Expected module_not_activated reason, got %q", e.Reason)
	}
}
