package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/bca/pkg/config"
	"github.com/boristopalov/bca/pkg/core"
)

const runYAML = `
name: smoke
timesteps_per_hour: 4
engine:
  warmup_days: 0
  run_days: 1
metrics:
  - name: zn0_temp
    category: var
    key: [Zone Mean Air Temperature, Zone 1]
  - name: htg_sp
    category: actuator
    key: [Zone Temperature Control, Heating Setpoint, Zone 1]
  - name: clg_sp
    category: actuator
    key: [Zone Temperature Control, Cooling Setpoint, Zone 1]
calling_points:
  - point: callback_after_predictor_before_hvac_managers
    actuate: true
  - point: callback_end_zone_timestep_after_zone_reporting
    observe: true
record_sets:
  - name: hourly
    point: callback_end_zone_timestep_after_zone_reporting
    stride: 4
    metrics: [zn0_temp, hour]
controller:
  type: thermostat
logging:
  level: error
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunSimulationWritesCSV(t *testing.T) {
	dir := t.TempDir()
	err := runSimulation(context.Background(), writeConfig(t, runYAML), runFlags{csvDir: dir})
	require.NoError(t, err)

	for _, name := range []string{"var", "actuator", "hourly"} {
		data, err := os.ReadFile(filepath.Join(dir, name+".csv"))
		require.NoError(t, err, name)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		assert.True(t, strings.HasPrefix(lines[0], "datetime,"), name)
		if name == "hourly" {
			assert.Len(t, lines, 25)
		} else {
			assert.Len(t, lines, 97)
		}
	}
}

func TestRunSimulationNeedsController(t *testing.T) {
	body := strings.Replace(runYAML, "type: thermostat", "type: none", 1)
	err := runSimulation(context.Background(), writeConfig(t, body), runFlags{csvDir: t.TempDir()})
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestEngineArgs(t *testing.T) {
	got := engineArgs(config.EngineConfig{
		Args:      []string{"-r"},
		Weather:   "chicago.epw",
		OutputDir: "out",
		Model:     "office.idf",
	})
	assert.Equal(t, []string{"-r", "-w", "chicago.epw", "-d", "out", "office.idf"}, got)
}

func TestListCommands(t *testing.T) {
	var out bytes.Buffer
	cmd := newCallingPointsCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
	assert.Equal(t, len(core.CallingPoints), strings.Count(out.String(), "\n"))

	out.Reset()
	cmd = newWeatherMetricsCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "outdoor_dry_bulb")
}

func TestValidateCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newValidateCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{writeConfig(t, runYAML)})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "smoke: ok")
	assert.Contains(t, out.String(), "controller:     thermostat")
}
