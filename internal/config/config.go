// Package config loads the msgarchive configuration file. The file is YAML
// checked against an embedded CUE schema before it is decoded.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/msgarchive/internal/cache"
	"github.com/roach88/msgarchive/internal/jid"
	"github.com/roach88/msgarchive/internal/model"
)

//go:embed schema.cue
var schemaCUE string

// FileName is the configuration file looked up in the user config
// directory when no path is given.
const FileName = "msgarchive/config.yaml"

// Config is the validated configuration. It implements the archive's
// account directory.
type Config struct {
	LogLevel    slog.Level
	ArchivePath string
	CachePath   string
	CommitDelay time.Duration

	accounts []model.AccountSettings
}

type fileConfig struct {
	LogLevel string `yaml:"log_level"`
	Archive  struct {
		Path string `yaml:"path"`
	} `yaml:"archive"`
	Cache struct {
		Path        string `yaml:"path"`
		CommitDelay string `yaml:"commit_delay"`
	} `yaml:"cache"`
	Accounts []fileAccount `yaml:"accounts"`
}

type fileAccount struct {
	Name          string `yaml:"name"`
	Address       string `yaml:"address"`
	Active        *bool  `yaml:"active"`
	HistoryMaxAge string `yaml:"history_max_age"`
}

// New returns the default configuration for the archive at archivePath,
// with no accounts configured.
func New(archivePath string) *Config {
	return &Config{
		LogLevel:    slog.LevelInfo,
		ArchivePath: archivePath,
		CachePath:   filepath.Join(filepath.Dir(archivePath), "cache.db"),
		CommitDelay: cache.DefaultCommitDelay,
	}
}

// DefaultPath returns the configuration file in the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads and validates the configuration at path. Relative store paths
// are resolved against the directory holding the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates and decodes a configuration document.
func Parse(data []byte, baseDir string) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var fc fileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return fc.resolve(baseDir)
}

// validateSchema unifies the document with #Config. The schema is closed,
// so unknown keys are rejected along with type and range errors.
func validateSchema(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	if raw == nil {
		raw = map[string]any{}
	}
	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return nil
}

func (fc fileConfig) resolve(baseDir string) (*Config, error) {
	cfg := New(resolvePath(baseDir, fc.Archive.Path))
	if fc.LogLevel != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(fc.LogLevel)); err != nil {
			return nil, fmt.Errorf("log_level: %w", err)
		}
	}

	if fc.Cache.Path != "" {
		cfg.CachePath = resolvePath(baseDir, fc.Cache.Path)
	}
	if fc.Cache.CommitDelay != "" {
		d, err := time.ParseDuration(fc.Cache.CommitDelay)
		if err != nil {
			return nil, fmt.Errorf("cache.commit_delay: %w", err)
		}
		cfg.CommitDelay = d
	}

	seen := make(map[string]bool)
	for i, fa := range fc.Accounts {
		if seen[fa.Name] {
			return nil, fmt.Errorf("accounts[%d]: duplicate account name %q", i, fa.Name)
		}
		seen[fa.Name] = true

		acc, err := fa.resolve()
		if err != nil {
			return nil, fmt.Errorf("accounts[%d]: %w", i, err)
		}
		cfg.accounts = append(cfg.accounts, acc)
	}
	return cfg, nil
}

func (fa fileAccount) resolve() (model.AccountSettings, error) {
	addr, err := jid.ParseBare(fa.Address)
	if err != nil {
		return model.AccountSettings{}, fmt.Errorf("address %q: %w", fa.Address, err)
	}
	acc := model.AccountSettings{
		Name:          fa.Name,
		Address:       addr,
		Active:        fa.Active == nil || *fa.Active,
		HistoryMaxAge: model.NoHistoryLimit,
	}
	if fa.HistoryMaxAge != "" && fa.HistoryMaxAge != "unlimited" {
		d, err := time.ParseDuration(fa.HistoryMaxAge)
		if err != nil {
			return model.AccountSettings{}, fmt.Errorf("history_max_age: %w", err)
		}
		acc.HistoryMaxAge = d
	}
	return acc, nil
}

// resolvePath expands a leading ~ and anchors relative paths at baseDir.
func resolvePath(baseDir, p string) string {
	if p == "" {
		return ""
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if !filepath.IsAbs(p) && baseDir != "" {
		p = filepath.Join(baseDir, p)
	}
	return p
}

// Accounts returns the configured accounts in file order.
func (c *Config) Accounts() []model.AccountSettings {
	return c.accounts
}

// Account returns the account with the given name.
func (c *Config) Account(name string) (model.AccountSettings, bool) {
	for _, acc := range c.accounts {
		if acc.Name == name {
			return acc, true
		}
	}
	return model.AccountSettings{}, false
}
