package eval

import (
	"fmt"
	"os"
	"path/filepath"

	"steerbench/internal/steerable"
)

// Progress summarizes how far a (possibly interrupted) experiment has
// gotten, read straight from the persisted files.
type Progress struct {
	CalibratedPersonas int
	CompletedPairs     int
}

// ReadProgress reports persisted progress for an experiment directory.
func ReadProgress(dir, name string) (Progress, error) {
	scores, err := LoadScores(dir, name)
	if err != nil {
		return Progress{}, err
	}
	states, err := LoadStates(dir, name)
	if err != nil {
		return Progress{}, err
	}
	p := Progress{CalibratedPersonas: len(states)}
	for _, row := range scores {
		p.CompletedPairs += len(row)
	}
	return p, nil
}

// LoadStates reads the steered-state snapshots from an experiment directory.
func LoadStates(dir, name string) (map[string]steerable.State, error) {
	path := filepath.Join(dir, fmt.Sprintf("steered_states_%s.json", name))
	states := make(map[string]steerable.State)
	if err := readJSONIfExists(path, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// ReadExperimentConfig loads the configuration persisted at experiment
// creation.
func ReadExperimentConfig(dir, name string) (Config, error) {
	path := filepath.Join(dir, fmt.Sprintf("config_%s.json", name))
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("experiment config not found: %w", err)
	}
	return LoadConfig(path)
}
