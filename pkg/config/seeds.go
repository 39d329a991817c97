package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Boards []BoardSeed `yaml:"boards"`
}

// LoadBoardSeeds reads a YAML file with a top level "boards" list
func LoadBoardSeeds(path string) ([]BoardSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	for i, b := range f.Boards {
		if b.Name == "" && b.Slug == "" {
			return nil, fmt.Errorf("board %d in %s has neither name nor slug", i+1, path)
		}
	}
	return f.Boards, nil
}
