// Package plan holds the subscribable plan catalog: per-tier limits on
// metered event types over trailing windows.
package plan

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-radar/internal/model"
)

// DefaultWindowDays is the quota window applied when a catalog entry
// omits one.
const DefaultWindowDays = 30

// Catalog is an immutable set of plan definitions keyed by name.
type Catalog struct {
	plans       map[string]model.PlanDefinition
	defaultName string
}

// DefaultDefinitions returns the built-in plan tiers.
func DefaultDefinitions() []model.PlanDefinition {
	return []model.PlanDefinition{
		{
			Name:        "starter",
			DisplayName: "Starter",
			Description: "For solo agents exploring new markets.",
			Price:       "$79/mo",
			Limits: map[string]model.PlanLimit{
				model.EventExport:       {Limit: 150, WindowDays: 30},
				model.EventLeadPack:     {Limit: 40, WindowDays: 30},
				model.EventRefreshCache: {Limit: 20, WindowDays: 30},
			},
		},
		{
			Name:        "growth",
			DisplayName: "Growth",
			Description: "Balanced tier for busy teams with regular campaigns.",
			Price:       "$149/mo",
			Limits: map[string]model.PlanLimit{
				model.EventExport:       {Limit: 500, WindowDays: 30},
				model.EventLeadPack:     {Limit: 120, WindowDays: 30},
				model.EventRefreshCache: {Limit: 60, WindowDays: 30},
			},
		},
		{
			Name:        "scale",
			DisplayName: "Scale",
			Description: "High-volume quota with priority refresh cadence.",
			Price:       "$349/mo",
			Limits: map[string]model.PlanLimit{
				model.EventExport:       {Limit: 2000, WindowDays: 30},
				model.EventLeadPack:     {Limit: 480, WindowDays: 30},
				model.EventRefreshCache: {Limit: 240, WindowDays: 30},
			},
		},
	}
}

// NewCatalog builds a catalog from definitions. The default plan must be
// present; windows default to DefaultWindowDays.
func NewCatalog(defs []model.PlanDefinition, defaultName string) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, eris.New("plan: catalog is empty")
	}
	plans := make(map[string]model.PlanDefinition, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return nil, eris.New("plan: definition missing name")
		}
		for eventType, lim := range def.Limits {
			if lim.WindowDays <= 0 {
				lim.WindowDays = DefaultWindowDays
				def.Limits[eventType] = lim
			}
		}
		plans[def.Name] = def
	}
	if _, ok := plans[defaultName]; !ok {
		return nil, eris.Errorf("plan: default plan %q missing from catalog", defaultName)
	}
	return &Catalog{plans: plans, defaultName: defaultName}, nil
}

// LoadCatalog reads plan definitions from a YAML file, falling back to
// the built-in tiers when path is empty.
func LoadCatalog(path, defaultName string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(DefaultDefinitions(), defaultName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "plan: read catalog %s", path)
	}
	var doc struct {
		Plans []model.PlanDefinition `yaml:"plans"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "plan: parse catalog yaml")
	}
	return NewCatalog(doc.Plans, defaultName)
}

// Get returns the named plan.
func (c *Catalog) Get(name string) (model.PlanDefinition, bool) {
	def, ok := c.plans[name]
	return def, ok
}

// Default returns the configured default plan.
func (c *Catalog) Default() model.PlanDefinition {
	return c.plans[c.defaultName]
}

// List returns all plans, ordered by name for stable output.
func (c *Catalog) List() []model.PlanDefinition {
	defs := make([]model.PlanDefinition, 0, len(c.plans))
	for _, def := range c.plans {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
