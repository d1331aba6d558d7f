package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProviderSeed is one provider entry of the YAML seed file.
type ProviderSeed struct {
	Name              string `yaml:"name"`
	BaseURL           string `yaml:"base_url"`
	ProviderType      string `yaml:"provider_type"`
	Model             string `yaml:"model"`
	APIKey            string `yaml:"api_key"`
	Active            *bool  `yaml:"active"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	RequestsPerDay    int    `yaml:"requests_per_day"`
	TokensPerMinute   int    `yaml:"tokens_per_minute"`
	TokensPerDay      int    `yaml:"tokens_per_day"`
}

// IsActive reports whether the seed enables the provider. Missing means active.
func (p ProviderSeed) IsActive() bool {
	return p.Active == nil || *p.Active
}

type providersFile struct {
	Providers []ProviderSeed `yaml:"providers"`
}

// LoadProviders reads the YAML provider seed file. A missing file yields no
// seeds and no error.
func LoadProviders(path string) ([]ProviderSeed, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config.LoadProviders: %w", err)
	}
	var f providersFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("config.LoadProviders: parse %s: %w", path, err)
	}
	for i, p := range f.Providers {
		if p.Name == "" || p.Model == "" || p.BaseURL == "" {
			return nil, fmt.Errorf("config.LoadProviders: provider #%d needs name, model and base_url", i+1)
		}
		if p.ProviderType == "" {
			f.Providers[i].ProviderType = "openai"
		}
	}
	return f.Providers, nil
}
