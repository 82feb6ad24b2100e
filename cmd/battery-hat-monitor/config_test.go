package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	config, err := ParseConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ":8080", config.ListenAddr)
	assert.InDelta(t, 11.0, config.DividerRatio, 0.001)
	assert.Equal(t, 9600, config.SerialBaud)
	assert.Empty(t, config.SerialDevice)

	// No override configured, so the built-in table applies.
	assert.True(t, config.Curve().Valid())
	assert.InDelta(t, 100, config.Curve().SOCFromVoltage(12.7), 0.001)
}

func TestParseConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
i2c-bus: "1"
serial-device: /dev/ttyUSB0
serial-baud: 115200
divider-ratio: 5.7
listen-addr: ":9000"
curve-voltages: [13.2, 12.0, 11.0]
curve-percents: [100, 50, 0]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	config, err := ParseConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "1", config.I2CBus)
	assert.Equal(t, "/dev/ttyUSB0", config.SerialDevice)
	assert.Equal(t, 115200, config.SerialBaud)
	assert.InDelta(t, 5.7, config.DividerRatio, 0.001)
	assert.Equal(t, ":9000", config.ListenAddr)

	curve := config.Curve()
	require.True(t, curve.Valid())
	assert.InDelta(t, 50, curve.SOCFromVoltage(12.0), 0.001)
}

func TestParseConfigBadCurveFallsBack(t *testing.T) {
	dir := t.TempDir()
	yaml := `
curve-voltages: [11.0, 12.0]
curve-percents: [0, 50]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	config, err := ParseConfig(dir)
	require.NoError(t, err)

	// Ascending voltages are rejected and the default table is used.
	curve := config.Curve()
	assert.InDelta(t, 100, curve.SOCFromVoltage(12.7), 0.001)
	assert.InDelta(t, 0, curve.SOCFromVoltage(11.4), 0.001)
}
