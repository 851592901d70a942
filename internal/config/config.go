package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/hevcify/internal/ffmpeg"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

const DefaultPath = "~/.config/hevcify/config.yaml"

// Config is the struct used to contain the user configuration, supplied
// by file and/or environment variables. The ffmpeg options are inlined so
// that keys such as 'image' and 'crf' sit at the top level of the file.
type Config struct {
	ffmpeg.Config `yaml:",inline"`

	SkipPull     bool   `yaml:"skip_pull" env:"HEVCIFY_SKIP_PULL"`
	PullAttempts uint64 `yaml:"pull_attempts" env:"HEVCIFY_PULL_ATTEMPTS" env-default:"3" validate:"gte=1"`

	// SizeThreshold is the size (bytes) at or below which a file is
	// considered trivial (empty or a leftover from a failed encode).
	SizeThreshold      int64         `yaml:"size_threshold" env:"HEVCIFY_SIZE_THRESHOLD" env-default:"40960" validate:"gte=0"`
	DurationTolerance  time.Duration `yaml:"duration_tolerance" env:"HEVCIFY_DURATION_TOLERANCE" env-default:"60s" validate:"gt=0"`
	PurgeTrivialInputs bool          `yaml:"purge_trivial_inputs" env:"HEVCIFY_PURGE_TRIVIAL_INPUTS" env-default:"false"`

	// A negative owner leaves that part of the ownership unchanged.
	OwnerUID int `yaml:"owner_uid" env:"HEVCIFY_OWNER_UID" env-default:"1001" validate:"gte=-1"`
	OwnerGID int `yaml:"owner_gid" env:"HEVCIFY_OWNER_GID" env-default:"1001" validate:"gte=-1"`

	StopTimeout time.Duration `yaml:"stop_timeout" env:"HEVCIFY_STOP_TIMEOUT" env-default:"10s" validate:"gte=0"`
}

// Load reads the YAML configuration at path (after expanding a leading '~'), with
// environment variables taking precedence. If optional is true and no file exists
// at the path, the configuration is read solely from the environment and defaults.
func Load(path string, optional bool) (*Config, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path %s: %w", path, err)
	}

	config := &Config{}
	if _, statErr := os.Stat(expanded); statErr != nil {
		if !optional || !errors.Is(statErr, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load configuration: %w", statErr)
		}

		if err := cleanenv.ReadEnv(config); err != nil {
			return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(expanded, config); err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", expanded, err)
	}

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("configuration is invalid: %w", err)
	}

	return config, nil
}

// Usage returns a description of the environment variables the configuration reads.
func Usage() string {
	desc, err := cleanenv.GetDescription(&Config{}, nil)
	if err != nil {
		return ""
	}

	return desc
}
