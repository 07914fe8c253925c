// Package config loads the neorun YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all neorun configuration.
type Config struct {
	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Compilation settings
	Compiler CompilerConfig `yaml:"compiler"`

	// Execution settings
	Executor ExecutorConfig `yaml:"executor"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
	Output string `yaml:"output" validate:"required"` // stderr, stdout or a file path
}

// CompilerConfig configures artifact production.
type CompilerConfig struct {
	BuildDir    string `yaml:"build_dir" validate:"required"`
	Extension   string `yaml:"extension" validate:"required,startswith=."`
	EmbedSource bool   `yaml:"embed_source"`
}

// ExecutorConfig configures unit execution.
type ExecutorConfig struct {
	ModulePaths  []string `yaml:"module_paths" validate:"dive,required"`
	MaxCallDepth int      `yaml:"max_call_depth" validate:"gte=1,lte=100000"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
			Output: "stderr",
		},
		Compiler: CompilerConfig{
			BuildDir:  "build",
			Extension: ".nrc",
		},
		Executor: ExecutorConfig{
			MaxCallDepth: 1000,
		},
	}
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies NEORUN_* environment variables. Values that do
// not parse are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NEORUN_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("NEORUN_LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("NEORUN_BUILD_DIR"); v != "" {
		c.Compiler.BuildDir = v
	}
	if v := os.Getenv("NEORUN_MODULE_PATH"); v != "" {
		c.Executor.ModulePaths = filepath.SplitList(v)
	}
	if v := os.Getenv("NEORUN_MAX_CALL_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Executor.MaxCallDepth = n
		}
	}
	if v := os.Getenv("NEORUN_EMBED_SOURCE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Compiler.EmbedSource = b
		}
	}
}

// ArtifactPath returns the default artifact path for a source file:
// <build_dir>/<base name without extension><extension>.
func (c *Config) ArtifactPath(sourcePath string) string {
	base := filepath.Base(sourcePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(c.Compiler.BuildDir, base+c.Compiler.Extension)
}

var (
	validate *validator.Validate
	once     sync.Once
)

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// report yaml names in error messages
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks field constraints. The error lists every offending key by
// its YAML path.
func (c *Config) Validate() error {
	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		key := e.Namespace()
		if i := strings.IndexByte(key, '.'); i >= 0 {
			key = key[i+1:]
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", key, describe(e)))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + e.Param()
	case "startswith":
		return "must start with " + strconv.Quote(e.Param())
	case "gte":
		return "must be at least " + e.Param()
	case "lte":
		return "must be at most " + e.Param()
	default:
		return "is invalid"
	}
}
