// Package config loads, validates and watches dispatch configuration files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/dispatch/pkg/models"
	"github.com/pario-ai/dispatch/pkg/router"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds all dispatch configuration.
type Config struct {
	Listen        string             `yaml:"listen" toml:"listen"`
	DataDir       string             `yaml:"data_dir" toml:"data_dir"`
	Log           LogConfig          `yaml:"log" toml:"log"`
	Store         StoreConfig        `yaml:"store" toml:"store"`
	Audit         models.AuditConfig `yaml:"audit" toml:"audit"`
	Router        router.Options     `yaml:"router" toml:"router"`
	ActiveProfile string             `yaml:"active_profile" toml:"active_profile"`
	Profiles      []models.Profile   `yaml:"profiles" toml:"profiles" validate:"required,min=1,dive"`
}

// LogConfig selects the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"omitempty,oneof=json console"`
}

// StoreConfig selects where the budget ledger persists its document.
type StoreConfig struct {
	Backend string `yaml:"backend" toml:"backend" validate:"omitempty,oneof=memory file sqlite postgres"`
	Path    string `yaml:"path" toml:"path"`
	DSN     string `yaml:"dsn" toml:"dsn" validate:"required_if=Backend postgres"`
	Key     string `yaml:"key" toml:"key"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:  ":8080",
		DataDir: ".dispatch",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Store: StoreConfig{
			Backend: BackendFile,
		},
		Audit: models.AuditConfig{
			RetentionDays: 30,
		},
		Router: router.DefaultOptions(),
	}
}

// Load reads a YAML or TOML config file, chosen by extension, and expands
// environment variables. A .env file next to the config is loaded first;
// variables already set in the environment win.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.NewDecoder(strings.NewReader(expanded)).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate runs struct validation and then checks every profile's references.
// Failures are *models.ConfigurationError.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return validationError(verrs[0])
		}
		return &models.ConfigurationError{Message: err.Error()}
	}

	names := make(map[string]bool, len(c.Profiles))
	for i := range c.Profiles {
		p := &c.Profiles[i]
		if names[p.Name] {
			return &models.ConfigurationError{Field: "profiles", Message: fmt.Sprintf("duplicate profile %q", p.Name)}
		}
		names[p.Name] = true
		if err := router.ValidateProfile(p); err != nil {
			var ce *models.ConfigurationError
			if errors.As(err, &ce) {
				return &models.ConfigurationError{Field: fmt.Sprintf("profiles[%s].%s", p.Name, ce.Field), Message: ce.Message}
			}
			return err
		}
	}
	if c.ActiveProfile != "" && !names[c.ActiveProfile] {
		return &models.ConfigurationError{Field: "active_profile", Message: fmt.Sprintf("unknown profile %q", c.ActiveProfile)}
	}
	return nil
}

func validationError(fe validator.FieldError) *models.ConfigurationError {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	var msg string
	switch fe.Tag() {
	case "required", "required_if":
		msg = "is required"
	case "min":
		msg = "must have at least " + fe.Param() + " entries"
	case "gte":
		msg = "must be greater than or equal to " + fe.Param()
	case "lte":
		msg = "must be less than or equal to " + fe.Param()
	case "oneof":
		msg = "must be one of: " + fe.Param()
	case "url":
		msg = "must be a valid URL"
	default:
		msg = fmt.Sprintf("failed on %q", fe.Tag())
	}
	return &models.ConfigurationError{Field: field, Message: msg}
}

// Profile returns the named profile. An empty name selects the active
// profile, or the first one when none is marked active.
func (c *Config) Profile(name string) (*models.Profile, error) {
	if name == "" {
		name = c.ActiveProfile
	}
	if name == "" && len(c.Profiles) > 0 {
		return &c.Profiles[0], nil
	}
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i], nil
		}
	}
	return nil, &models.ConfigurationError{Field: "profile", Message: fmt.Sprintf("unknown profile %q", name)}
}
