package api

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSequenceJobRejectsZeroIterations(t *testing.T) {
	_, err := NewSequenceJob("soak", nil, 0, 0)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestNewSequenceJobRejectsNegativeBudget(t *testing.T) {
	_, err := NewSequenceJob("soak", nil, 1, -1)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestNewSequenceJobDefaults(t *testing.T) {
	j, err := NewSequenceJob("soak", map[string]string{"tag": "nightly"}, 3, 2*SecondsPerHour)
	require.NoError(t, err)

	assert.Equal(t, uint(3), j.EffectiveIterations())
	assert.True(t, j.HasBudget())
	assert.Equal(t, 2*time.Hour, j.Budget())
}

func TestOmittedIterationsDefaultToOne(t *testing.T) {
	j := &SequenceJob{Name: "before"}
	assert.Equal(t, uint(1), j.EffectiveIterations())
	assert.False(t, j.HasBudget())
}

func TestDefinitionValidation(t *testing.T) {
	// no steps at all.
	d := &SequenceDefinition{}
	err := d.Validate()
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))

	// a step with an explicit zero iteration count.
	zero := uint(0)
	d = &SequenceDefinition{
		Steps: Steps{
			{Name: "before"},
			{Name: "soak", Iterations: &zero},
		},
	}
	err = d.Validate()
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))

	// a nameless step.
	d = &SequenceDefinition{Steps: Steps{{}}}
	require.Error(t, d.Validate())

	// a healthy definition.
	d = &SequenceDefinition{Steps: Steps{{Name: "before"}, {Name: "after"}}}
	require.NoError(t, d.Validate())
}

func TestPrepareForRunMergesGlobalParams(t *testing.T) {
	d := SequenceDefinition{
		Global: Global{TestParams: map[string]string{"tag": "nightly", "board": "eve"}},
		Steps: Steps{
			{Name: "before"},
			{Name: "soak", Parameters: map[string]string{"tag": "soak"}},
		},
	}

	prepared, err := d.PrepareForRun()
	require.NoError(t, err)

	// global defaults trickle down; step-local values win.
	assert.Equal(t, "nightly", prepared.Steps[0].Parameters["tag"])
	assert.Equal(t, "eve", prepared.Steps[0].Parameters["board"])
	assert.Equal(t, "soak", prepared.Steps[1].Parameters["tag"])
	assert.Equal(t, "eve", prepared.Steps[1].Parameters["board"])

	// defaults applied.
	require.NotNil(t, prepared.Steps[0].Iterations)
	assert.Equal(t, uint(1), *prepared.Steps[0].Iterations)

	// the receiver was not mutated.
	assert.Nil(t, d.Steps[0].Iterations)
	assert.Nil(t, d.Steps[0].Parameters)
	assert.Equal(t, "soak", d.Steps[1].Parameters["tag"])
	assert.NotContains(t, d.Steps[1].Parameters, "board")
}

func TestTotalIterations(t *testing.T) {
	two := uint(2)
	d := &SequenceDefinition{
		Steps: Steps{
			{Name: "before"},
			{Name: "soak", Iterations: &two},
			{Name: "after"},
		},
	}
	assert.Equal(t, uint(4), d.TotalIterations())
}

func TestLoadSequenceDefinition(t *testing.T) {
	content := `
[metadata]
name = "power-soak"
author = "lab"

[global]
test_params = { board = "eve" }

[[steps]]
name = "power_BatteryCharge"

[[steps]]
name = "power_LoadTest"
iterations = 2
duration_budget = 3600
test_params = { loop = "fast" }
`
	path := filepath.Join(t.TempDir(), "sequence.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	d, err := LoadSequenceDefinition(path)
	require.NoError(t, err)

	assert.Equal(t, "power-soak", d.Metadata.Name)
	require.Len(t, d.Steps, 2)
	assert.Equal(t, "power_BatteryCharge", d.Steps[0].Name)
	require.NotNil(t, d.Steps[1].Iterations)
	assert.Equal(t, uint(2), *d.Steps[1].Iterations)
	assert.Equal(t, SecondsPerHour, d.Steps[1].DurationBudget)
	assert.Equal(t, "fast", d.Steps[1].Parameters["loop"])

	_, err = LoadSequenceDefinition(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
