package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/elektrokombinacija/mapf-cbs-research/internal/core"
)

// ErrInvalidInstance is returned for instance files that do not describe a
// valid problem.
var ErrInvalidInstance = errors.New("invalid instance file")

// InstanceFile is the on-disk form of a problem.
//
//	name: pocket
//	allow_diagonal: false
//	map:
//	  - "..."
//	  - "@.@"
//	agents:
//	  - {id: 1, start: [0, 0], goal: [2, 0]}
type InstanceFile struct {
	Name          string      `yaml:"name"`
	AllowDiagonal bool        `yaml:"allow_diagonal"`
	Map           []string    `yaml:"map"`
	Agents        []AgentFile `yaml:"agents"`
}

// AgentFile is one agent entry; coordinates are [x, y].
type AgentFile struct {
	ID    int    `yaml:"id"`
	Start [2]int `yaml:"start"`
	Goal  [2]int `yaml:"goal"`
}

// LoadInstance reads and validates an instance file.
func LoadInstance(path string) (*core.Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instance: %w", err)
	}
	inst, err := ParseInstance(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return inst, nil
}

// ParseInstance decodes an instance document. Unknown keys are rejected.
func ParseInstance(data []byte) (*core.Instance, error) {
	var f InstanceFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInstance, err)
	}
	return f.Instance()
}

// Instance converts the file into a validated core.Instance.
func (f InstanceFile) Instance() (*core.Instance, error) {
	g, err := core.ParseGrid(f.Map)
	if err != nil {
		return nil, errors.Join(ErrInvalidInstance, err)
	}
	g.AllowDiagonal = f.AllowDiagonal

	agents := make([]core.Agent, len(f.Agents))
	for i, a := range f.Agents {
		agents[i] = core.Agent{
			ID:    a.ID,
			Start: core.Cell{X: a.Start[0], Y: a.Start[1]},
			Goal:  core.Cell{X: a.Goal[0], Y: a.Goal[1]},
		}
	}
	inst := core.NewInstance(f.Name, g, agents)
	if err := inst.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidInstance, err)
	}
	return inst, nil
}
