package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPhaseTableReadsConfiguredSports(t *testing.T) {
	table, err := LoadPhaseTable(filepath.Join("..", "..", "config", "sports.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 4, table.TotalPhases("nfl"))
	assert.Equal(t, 9, table.TotalPhases("mlb"))
	assert.Equal(t, 18, table.TotalPhases("golf"))
}

func TestTotalPhasesFallsBackToDefaultForUnknownSport(t *testing.T) {
	table, err := LoadPhaseTable(filepath.Join("..", "..", "config", "sports.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultTotalPhases, table.TotalPhases("cricket"))
}

func TestTotalPhasesOnNilTableReturnsDefault(t *testing.T) {
	var table *PhaseTable
	assert.Equal(t, DefaultTotalPhases, table.TotalPhases("nfl"))
}
