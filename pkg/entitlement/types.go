package entitlement

import "fmt"

// Role is the single role a principal holds within a tenant
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleCashier Role = "cashier"
	RoleViewer  Role = "viewer"
)

// knownRoles guards against raw strings sneaking in from storage
var knownRoles = map[Role]struct{}{
	RoleAdmin:   {},
	RoleManager: {},
	RoleCashier: {},
	RoleViewer:  {},
}

// ParseRole validates a stored role string
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := knownRoles[r]; !ok {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// Action is an operation on a module
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionExport Action = "export"
)

// knownActions mirrors knownRoles for the action axis
var knownActions = map[Action]struct{}{
	ActionView:   {},
	ActionCreate: {},
	ActionEdit:   {},
	ActionDelete: {},
	ActionExport: {},
}

// ParseAction validates a stored action string
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := knownActions[a]; !ok {
		return "", fmt.Errorf("unknown action: %q", s)
	}
	return a, nil
}

// ModuleCode identifies a feature area
type ModuleCode string

const (
	ModuleDashboard   ModuleCode = "dashboard"
	ModulePointOfSale ModuleCode = "point_of_sale"
	ModuleProducts    ModuleCode = "products"
	ModuleSales       ModuleCode = "sales"
	ModuleCustomers   ModuleCode = "customers"
	ModuleSettings    ModuleCode = "settings"
	ModuleReports     ModuleCode = "reports"
	ModulePayroll     ModuleCode = "payroll"
	ModuleInventory   ModuleCode = "inventory"
	ModulePurchasing  ModuleCode = "purchasing"
	ModuleLoyalty     ModuleCode = "loyalty"
	ModuleAccounting  ModuleCode = "accounting"
)

var knownModules = map[ModuleCode]struct{}{
	ModuleDashboard:   {},
	ModulePointOfSale: {},
	ModuleProducts:    {},
	ModuleSales:       {},
	ModuleCustomers:   {},
	ModuleSettings:    {},
	ModuleReports:     {},
	ModulePayroll:     {},
	ModuleInventory:   {},
	ModulePurchasing:  {},
	ModuleLoyalty:     {},
	ModuleAccounting:  {},
}

// ParseModuleCode validates a raw module string against the closed set
func ParseModuleCode(s string) (ModuleCode, error) {
	c := ModuleCode(s)
	if _, ok := knownModules[c]; !ok {
		return "", fmt.Errorf("unknown module code: %q", s)
	}
	return c, nil
}

// baseModules are reachable by role permission alone, bypassing tenant
// module activation. Load-time constant, never derived from tenant data.
var baseModules = map[ModuleCode]struct{}{
	ModuleDashboard:   {},
	ModulePointOfSale: {},
	ModuleProducts:    {},
	ModuleSales:       {},
	ModuleCustomers:   {},
	ModuleSettings:    {},
	ModuleReports:     {},
}

// IsBaseModule reports whether a module bypasses tenant activation
func IsBaseModule(code ModuleCode) bool {
	_, ok := baseModules[code]
	return ok
}

// BaseModules returns the base module set (copy, callers may not mutate it)
func BaseModules() []ModuleCode {
	out := make([]ModuleCode, 0, len(baseModules))
	for code := range baseModules {
		out = append(out, code)
	}
	return out
}

// Matrix is the tenant-scoped role -> module -> action permission grid.
// Absent entries deny.
type Matrix map[Role]map[ModuleCode]map[Action]bool

// Granted reports whether the matrix grants (role, module, action)
func (m Matrix) Granted(role Role, module ModuleCode, action Action) bool {
	mods, ok := m[role]
	if !ok {
		return false
	}
	actions, ok := mods[module]
	if !ok {
		return false
	}
	return actions[action]
}

// Grant sets a single matrix cell, allocating rows as needed
func (m Matrix) Grant(role Role, module ModuleCode, action Action) {
	mods, ok := m[role]
	if !ok {
		mods = make(map[ModuleCode]map[Action]bool)
		m[role] = mods
	}
	actions, ok := mods[module]
	if !ok {
		actions = make(map[Action]bool)
		mods[module] = actions
	}
	actions[action] = true
}

// ModuleSet is the tenant's activated module codes
type ModuleSet map[ModuleCode]struct{}

// Contains reports set membership
func (s ModuleSet) Contains(code ModuleCode) bool {
	_, ok := s[code]
	return ok
}

// NewModuleSet builds a set from codes
func NewModuleSet(codes ...ModuleCode) ModuleSet {
	s := make(ModuleSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// Snapshot is the immutable, already-resolved tenant view a decision reads.
// The Tenant Resolver swaps the current snapshot atomically; capability
// checks in flight keep the snapshot they started with.
type Snapshot struct {
	// Epoch increments on every snapshot swap and keys the decision cache
	Epoch uint64

	TenantID   string
	TenantName string
	Role       Role

	ActiveModules ModuleSet
	Matrix        Matrix

	// SoleMembership is a UI simplification flag only; it never
	// participates in Allow/Deny.
	SoleMembership bool
}

// Capability is the unit of permission checking
type Capability struct {
	Module ModuleCode `json:"module"`
	Action Action     `json:"action"`
}

func (c Capability) String() string {
	return string(c.Module) + ":" + string(c.Action)
}
