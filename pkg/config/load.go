package config

import (
	"fmt"

	mapstruct "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Load reads the config document at filePath (YAML or JSON, detected
// by extension) into a Config, matching the teacher's loadConfig: a
// fresh viper.Viper per call, unmarshaled with ErrorUnused so unknown
// keys are caught at load time rather than silently ignored.
func Load(filePath string) (*Config, error) {
	if filePath == "" {
		return nil, fmt.Errorf("config: no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(filePath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", filePath, err)
	}

	decoderOpt := func(dc *mapstruct.DecoderConfig) {
		dc.ErrorUnused = true
		dc.WeaklyTypedInput = true
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg, decoderOpt); err != nil {
		return nil, fmt.Errorf("config: unmarshaling %q: %w", filePath, err)
	}
	return cfg, nil
}
