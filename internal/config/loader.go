package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "inspectcheck.yaml"
	// EnvFile is loaded into the environment when present
	EnvFile = ".env"
	// EnvPrefix prefixes every configuration environment variable
	EnvPrefix = "INSPECTCHECK_"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger logrus.FieldLogger
}

// NewLoader creates a new configuration loader
func NewLoader(logger logrus.FieldLogger) *Loader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. Config file (path when given, else inspectcheck.yaml in current or parent directories)
// 3. .env file next to the config file or in the current directory
// 4. INSPECTCHECK_* environment variables
//
// An explicit path that cannot be read is an error; a missing project file is
// not.
func (l *Loader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path == "" {
		path = l.findProjectConfig()
		if path == "" {
			l.logger.Debug("No project config found")
		}
	}
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		l.logger.WithField("path", path).Debug("Loaded config file")
		config.Merge(fileConfig)
	}

	envPath := EnvFile
	if path != "" {
		envPath = filepath.Join(filepath.Dir(path), EnvFile)
	}
	if err := godotenv.Load(envPath); err == nil {
		l.logger.WithField("path", envPath).Debug("Loaded env file")
	} else if !os.IsNotExist(err) {
		l.logger.WithField("path", envPath).WithError(err).Warn("Failed to load env file")
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv overrides config with INSPECTCHECK_* variables that are set.
func applyEnv(c *Config) error {
	strs := map[string]*string{
		"STORE_DRIVER":       &c.Store.Driver,
		"STORE_DSN":          &c.Store.DSN,
		"SCHEMAS_DIR":        &c.Schemas.Dir,
		"LOG_LEVEL":          &c.Log.Level,
		"LOG_FORMAT":         &c.Log.Format,
		"NARRATIVE_PROVIDER": &c.Narrative.Provider,
		"NARRATIVE_MODEL":    &c.Narrative.Model,
		"NARRATIVE_LANGUAGE": &c.Narrative.Language,
		"METRICS_TEXTFILE":   &c.Metrics.Textfile,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "REQUIRE_COMPLETE_SECTIONS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sREQUIRE_COMPLETE_SECTIONS: %w", EnvPrefix, err)
		}
		c.Submission.RequireCompleteSections = &b
	}
	if v, ok := os.LookupEnv(EnvPrefix + "NARRATIVE_MAX_TOKENS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sNARRATIVE_MAX_TOKENS: %w", EnvPrefix, err)
		}
		c.Narrative.MaxTokens = n
	}
	return nil
}

// findProjectConfig searches for inspectcheck.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
