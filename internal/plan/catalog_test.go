package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-radar/internal/model"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := NewCatalog(DefaultDefinitions(), "starter")
	require.NoError(t, err)

	starter, ok := c.Get("starter")
	require.True(t, ok)
	assert.Equal(t, "Starter", starter.DisplayName)
	assert.Equal(t, 150, starter.Limits[model.EventExport].Limit)
	assert.Equal(t, 30, starter.Limits[model.EventExport].WindowDays)

	assert.Equal(t, "starter", c.Default().Name)

	names := []string{}
	for _, def := range c.List() {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{"growth", "scale", "starter"}, names)
}

func TestNewCatalog_Validation(t *testing.T) {
	_, err := NewCatalog(nil, "starter")
	assert.Error(t, err)

	_, err = NewCatalog(DefaultDefinitions(), "enterprise")
	assert.Error(t, err)

	_, err = NewCatalog([]model.PlanDefinition{{DisplayName: "Nameless"}}, "")
	assert.Error(t, err)
}

func TestNewCatalog_DefaultsWindowDays(t *testing.T) {
	defs := []model.PlanDefinition{{
		Name: "trial",
		Limits: map[string]model.PlanLimit{
			model.EventExport: {Limit: 5},
		},
	}}
	c, err := NewCatalog(defs, "trial")
	require.NoError(t, err)

	trial, _ := c.Get("trial")
	assert.Equal(t, DefaultWindowDays, trial.Limits[model.EventExport].WindowDays)
}

func TestLoadCatalog_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.yaml")
	yaml := `
plans:
  - name: trial
    display_name: Trial
    description: Two-week evaluation.
    price: $0/mo
    limits:
      properties.export:
        limit: 10
        window_days: 14
      properties.lead_pack:
        limit: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	c, err := LoadCatalog(path, "trial")
	require.NoError(t, err)

	trial, ok := c.Get("trial")
	require.True(t, ok)
	assert.Equal(t, "Trial", trial.DisplayName)
	assert.Equal(t, 10, trial.Limits[model.EventExport].Limit)
	assert.Equal(t, 14, trial.Limits[model.EventExport].WindowDays)
	// Omitted window falls back to the default.
	assert.Equal(t, DefaultWindowDays, trial.Limits[model.EventLeadPack].WindowDays)
}

func TestLoadCatalog_EmptyPathUsesBuiltins(t *testing.T) {
	c, err := LoadCatalog("", "growth")
	require.NoError(t, err)
	assert.Equal(t, "growth", c.Default().Name)
}

func TestLoadCatalog_Errors(t *testing.T) {
	_, err := LoadCatalog("/does/not/exist.yaml", "starter")
	assert.Error(t, err)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("plans: {not: [valid"), 0644))
	_, err = LoadCatalog(bad, "starter")
	assert.Error(t, err)
}
