package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Load reads a JSON or YAML configuration document from path, decodes it
// into a RuntimeConfig, and validates it. The file extension (or an
// explicit SetConfigType by the caller's environment) selects the codec;
// viper's default YAML backend is gopkg.in/yaml.v3.
func Load(path string) (*RuntimeConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg RuntimeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
