package entitlement

import (
	"testing"
)

func TestParseRole(t *testing.T) {
	for _, valid := range []string{"admin", "manager", "cashier", "viewer"} {
		if _, err := ParseRole(valid); err != nil {
			t.Errorf("Expected %q to parse, got %v", valid, err)
		}
	}
	for _, invalid := range []string{"", "Admin", "owner", "cashier "} {
		if _, err := ParseRole(invalid); err == nil {
			t.Errorf("Expected %q to be rejected", invalid)
		}
	}
}

func TestParseAction(t *testing.T) {
	if _, err := ParseAction("view"); err != nil {
		t.Errorf("Expected view to parse, got %v", err)
	}
	if _, err := ParseAction("destroy"); err == nil {
		t.Error("Expected unknown action to be rejected")
	}
}

func TestParseModuleCode(t *testing.T) {
	if _, err := ParseModuleCode("point_of_sale"); err != nil {
		t.Errorf("Expected point_of_sale to parse, got %v", err)
	}
	if _, err := ParseModuleCode("pos"); err == nil {
		t.Error("Expected unknown module code to be rejected")
	}
}

func TestBaseModuleSet(t *testing.T) {
	base := []ModuleCode{
		ModuleDashboard, ModulePointOfSale, ModuleProducts,
		ModuleSales, ModuleCustomers, ModuleSettings, ModuleReports,
	}
	for _, code := range base {
		if !IsBaseModule(code) {
			t.Errorf("Expected %s to be a base module", code)
		}
	}
	for _, code := range []ModuleCode{ModulePayroll, ModuleInventory, ModulePurchasing, ModuleLoyalty, ModuleAccounting} {
		if IsBaseModule(code) {
			t.Errorf("Expected %s not to be a base module", code)
		}
	}
	if len(BaseModules()) != len(base) {
		t.Errorf("Expected %d base modules, got %d", len(base), len(BaseModules()))
	}
}

func TestMatrixGrantAndLookup(t *testing.T) {
	m := Matrix{}
	m.Grant(RoleManager, ModuleReports, ActionExport)

	if !m.Granted(RoleManager, ModuleReports, ActionExport) {
		t.Error("Expected grant to be visible")
	}
	if m.Granted(RoleManager, ModuleReports, ActionDelete) {
		t.Error("Expected absent action to deny")
	}
	if m.Granted(RoleCashier, ModuleReports, ActionExport) {
		t.Error("Expected absent role to deny")
	}
}
