package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// RewardFileVersion is the only reward file layout this build understands.
const RewardFileVersion = 1

// DefaultReward applies when neither the file nor a project entry says otherwise.
var DefaultReward = Reward{
	NewHours:          1.0,
	ReworkHours:       0.5,
	MaxRewardedRework: 1,
}

// Reward is the hour-credit model of one project.
type Reward struct {
	NewHours    float64 `json:"new_hours" yaml:"new_hours" jsonschema:"hours credited for a first completion"`
	ReworkHours float64 `json:"rework_hours" yaml:"rework_hours" jsonschema:"hours credited for reworking a task"`
	// MaxRewardedRework caps how many rework completions on the same task earn
	// rework hours for the same worker.
	MaxRewardedRework int `json:"max_rewarded_rework" yaml:"max_rewarded_rework" jsonschema:"rework completions per task that earn credit"`
}

// RewardFile is the on-disk layout of the reward configuration.
type RewardFile struct {
	Version  int               `json:"version" yaml:"version"`
	Default  *Reward           `json:"default,omitempty" yaml:"default,omitempty"`
	Projects map[string]Reward `json:"projects,omitempty" yaml:"projects,omitempty"`
}

// Rewards is the validated, read-only reward configuration.
type Rewards struct {
	version  int
	fallback Reward
	projects map[string]Reward
}

// NewRewards builds a configuration in code. Used by tests and by callers
// that already hold validated values.
func NewRewards(fallback Reward, projects map[string]Reward) *Rewards {
	r := &Rewards{version: RewardFileVersion, fallback: fallback, projects: make(map[string]Reward, len(projects))}
	for k, v := range projects {
		r.projects[k] = v
	}
	return r
}

// DefaultRewards is the configuration used when no reward file exists.
func DefaultRewards() *Rewards {
	return NewRewards(DefaultReward, nil)
}

// For returns the reward of a project. ok is false when the project has no
// entry and the global default was used.
func (r *Rewards) For(projectID string) (Reward, bool) {
	if r == nil {
		return DefaultReward, false
	}
	if p, ok := r.projects[projectID]; ok {
		return p, true
	}
	return r.fallback, false
}

// Default returns the global fallback reward.
func (r *Rewards) Default() Reward {
	if r == nil {
		return DefaultReward
	}
	return r.fallback
}

// Version returns the file version the configuration was loaded from.
func (r *Rewards) Version() int {
	if r == nil {
		return RewardFileVersion
	}
	return r.version
}

// LoadRewards reads a reward file. A missing file yields DefaultRewards; a
// file of the wrong shape is an error.
func LoadRewards(path string) (*Rewards, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info().Str("path", path).Msg("No reward file, using global default")
			return DefaultRewards(), nil
		}
		return nil, fmt.Errorf("failed to read reward file: %w", err)
	}
	return ParseRewards(data)
}

// ParseRewards validates YAML (or JSON) reward configuration against the
// schema of RewardFile, rejecting unknown keys, then checks the values.
func ParseRewards(data []byte) (*Rewards, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid reward file: %w", err)
	}

	// Round-trip through JSON so the instance has the value types the schema
	// validator expects.
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid reward file: %w", err)
	}
	var instance any
	if err := json.Unmarshal(asJSON, &instance); err != nil {
		return nil, fmt.Errorf("invalid reward file: %w", err)
	}

	resolved, err := rewardSchema()
	if err != nil {
		return nil, err
	}
	if err := resolved.Validate(instance); err != nil {
		return nil, fmt.Errorf("reward file does not match schema: %w", err)
	}

	var file RewardFile
	if err := json.Unmarshal(asJSON, &file); err != nil {
		return nil, fmt.Errorf("invalid reward file: %w", err)
	}
	if file.Version != RewardFileVersion {
		return nil, fmt.Errorf("unsupported reward file version %d (want %d)", file.Version, RewardFileVersion)
	}

	fallback := DefaultReward
	if file.Default != nil {
		fallback = *file.Default
	}
	if err := fallback.validate(); err != nil {
		return nil, fmt.Errorf("default reward: %w", err)
	}
	for project, reward := range file.Projects {
		if err := reward.validate(); err != nil {
			return nil, fmt.Errorf("reward for project %s: %w", project, err)
		}
	}

	return NewRewards(fallback, file.Projects), nil
}

func (r Reward) validate() error {
	if r.NewHours < 0 || r.ReworkHours < 0 {
		return errors.New("hours must not be negative")
	}
	if r.MaxRewardedRework < 0 {
		return errors.New("max_rewarded_rework must not be negative")
	}
	return nil
}

func rewardSchema() (*jsonschema.Resolved, error) {
	schema, err := jsonschema.For[RewardFile](nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build reward schema: %w", err)
	}
	closeObjects(schema)
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve reward schema: %w", err)
	}
	return resolved, nil
}

// closeObjects forbids properties the Go structs do not declare.
func closeObjects(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	if len(s.Properties) > 0 && s.AdditionalProperties == nil {
		s.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}
	}
	for _, p := range s.Properties {
		closeObjects(p)
	}
	if s.AdditionalProperties != nil && len(s.AdditionalProperties.Properties) > 0 {
		closeObjects(s.AdditionalProperties)
	}
	closeObjects(s.Items)
}
