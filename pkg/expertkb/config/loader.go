package config

import "fmt"

// Loader loads the settings and the optional knowledge seed
type Loader struct {
	ConfigPath    string
	KnowledgePath string
	EnvFiles      []string
}

// Components holds everything a Loader produced
type Components struct {
	Config    Config
	Knowledge *Knowledge // nil when no seed file is configured
}

// Load reads the env files, the config file and the knowledge seed, applies
// environment overrides and validates the result.
func (l *Loader) Load() (*Components, error) {
	if err := LoadEnvFiles(l.EnvFiles...); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg, err := Load(l.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	comp := &Components{Config: cfg}
	if l.KnowledgePath != "" {
		k, err := LoadKnowledge(l.KnowledgePath)
		if err != nil {
			return nil, fmt.Errorf("load knowledge: %w", err)
		}
		comp.Knowledge = k
	}
	return comp, nil
}
