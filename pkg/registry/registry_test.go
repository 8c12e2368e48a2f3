package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateID(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateID("github"))
	require.NoError(t, ValidateID("file-system"))
	require.ErrorIs(t, ValidateID(""), ErrEmptyID)
	require.ErrorIs(t, ValidateID("my_server"), ErrInvalidID)
	require.ErrorIs(t, ValidateID("has space"), ErrInvalidID)
}

func TestBackendDefinitionValidateRequiresCommand(t *testing.T) {
	t.Parallel()

	err := BackendDefinition{ID: "alpha"}.Validate()
	require.ErrorIs(t, err, ErrEmptyCommand)
	require.NoError(t, BackendDefinition{ID: "alpha", Command: "npx"}.Validate())
}

func TestSelectFiltersByGroupAndEnabled(t *testing.T) {
	t.Parallel()

	defs := []BackendDefinition{
		{ID: "a", Command: "x", Group: "g1", Enabled: true},
		{ID: "b", Command: "x", Group: "g2", Enabled: true},
		{ID: "c", Command: "x", Group: "g1", Enabled: false},
		{ID: "d", Command: "x", Enabled: true},
	}

	got := Select(defs, []string{"g1"})
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	got = Select(defs, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "d", got[0].ID, "definitions without a group belong to the default group")

	got = Select(defs, []string{"g2", "default", "g1"})
	ids := make([]string, 0, len(got))
	for _, d := range got {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"a", "b", "d"}, ids, "file order is preserved")
}

func TestSelectedGroupsPrecedence(t *testing.T) {
	t.Parallel()

	env := func(vals map[string]string) func(string) string {
		return func(k string) string { return vals[k] }
	}

	assert.Equal(t, []string{"dev", "ops"}, SelectedGroups(env(map[string]string{
		EnvGroups: " dev, ops ,,dev",
		EnvGroup:  "ignored",
	})))
	assert.Equal(t, []string{"solo"}, SelectedGroups(env(map[string]string{EnvGroup: "solo"})))
	assert.Equal(t, []string{DefaultGroup}, SelectedGroups(env(nil)))
	assert.Equal(t, []string{DefaultGroup}, SelectedGroups(env(map[string]string{EnvGroups: " , "})))
}

func TestEnvironAppendsOverridesInKeyOrder(t *testing.T) {
	t.Parallel()

	def := BackendDefinition{Env: map[string]string{"B": "2", "A": "1"}}
	base := []string{"PATH=/bin"}
	got := def.Environ(base)
	assert.Equal(t, []string{"PATH=/bin", "A=1", "B=2"}, got)
	assert.Equal(t, []string{"PATH=/bin"}, base, "base slice must not be mutated")

	assert.Equal(t, base, BackendDefinition{}.Environ(base))
}

func TestGroupAndDisplayNameDefaults(t *testing.T) {
	t.Parallel()

	def := BackendDefinition{ID: "alpha"}
	assert.Equal(t, DefaultGroup, def.GroupName())
	assert.Equal(t, "alpha", def.DisplayName())

	def.Group, def.Name = "work", "Alpha Server"
	assert.Equal(t, "work", def.GroupName())
	assert.Equal(t, "Alpha Server", def.DisplayName())
}
