package internal

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mediavault/mediavault/internal/api"
	"github.com/mediavault/mediavault/internal/database"
	"github.com/mediavault/mediavault/internal/ffmpeg"
	"github.com/mediavault/mediavault/internal/pipeline"
)

// MediaVaultConfig is the top-level user configuration, supplied by YAML
// file with environment variable overrides.
type MediaVaultConfig struct {
	Rest     api.RestConfig          `yaml:"api"`
	Database database.DatabaseConfig `yaml:"database" env-required:"true"`
	Pipeline pipeline.Config         `yaml:"pipeline"`
	Ffmpeg   ffmpeg.Config           `yaml:"ffmpeg"`
}

// LoadFromFile reads the YAML configuration at the given path in to this
// config, applying environment variable overrides on top.
func (config *MediaVaultConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration - %v", err.Error())
	}

	return nil
}
