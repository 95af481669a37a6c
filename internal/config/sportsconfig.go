package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultTotalPhases is used for any sport absent from the phase table.
const DefaultTotalPhases = 4

// PhaseTable maps a sport to its total phase count (quarter/inning/set/
// round/hole), driving the confidence scorer's game-phase sub-score.
type PhaseTable struct {
	Sports map[string]struct {
		TotalPhases int `yaml:"total_phases"`
	} `yaml:"sports"`
}

// LoadPhaseTable reads the phase-cutoff table from path.
func LoadPhaseTable(path string) (*PhaseTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read phase table %s: %w", path, err)
	}

	var table PhaseTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("config: parse phase table %s: %w", path, err)
	}
	return &table, nil
}

// TotalPhases returns the configured phase count for sport, or
// DefaultTotalPhases if the sport isn't in the table.
func (t *PhaseTable) TotalPhases(sport string) int {
	if t == nil {
		return DefaultTotalPhases
	}
	if entry, ok := t.Sports[sport]; ok && entry.TotalPhases > 0 {
		return entry.TotalPhases
	}
	return DefaultTotalPhases
}
