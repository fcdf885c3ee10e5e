package menu

import (
	"github.com/tillworks/accessgate/pkg/entitlement"
)

// Visible filters the manifest down to items the snapshot may view,
// dropping any group left empty. Pure function of the manifest and the
// same inputs as the entitlement engine.
func Visible(m *Manifest, engine *entitlement.Engine, snap *entitlement.Snapshot, operator bool) *Manifest {
	out := &Manifest{}
	if m == nil {
		return out
	}
	for _, g := range m.Groups {
		var items []Item
		for _, it := range g.Items {
			d := engine.Decide(snap, operator, entitlement.ModuleCode(it.Module), entitlement.ActionView)
			if d.Allowed {
				items = append(items, it)
			}
		}
		if len(items) > 0 {
			out.Groups = append(out.Groups, Group{Name: g.Name, Items: items})
		}
	}
	return out
}
