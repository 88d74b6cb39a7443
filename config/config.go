// Package config loads the settings shared by the CLI, the orchestrator and
// the worker processes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/vladlpavlov/Pythagoras-sub001/persidict"
)

const EnvPrefix = "PYTHAGORAS_"

const (
	BackendDir    = "dir"
	BackendS3     = "s3"
	BackendGCS    = "gcs"
	BackendBadger = "badger"
)

type StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKey       string `yaml:"access_key"`
	SecretKey       string `yaml:"secret_key"`
	CredentialsFile string `yaml:"credentials_file"`

	// LocalDir holds scratch copies of remote objects.
	LocalDir string `yaml:"local_dir"`
}

type CacheConfig struct {
	Dir       string `yaml:"dir"`
	Read      bool   `yaml:"read"`
	Write     bool   `yaml:"write"`
	MaxKeyLen int    `yaml:"max_key_len"`
}

type Config struct {
	Backend string        `yaml:"backend"`
	BaseDir string        `yaml:"base_dir"`
	Format  string        `yaml:"format"`
	Storage StorageConfig `yaml:"storage"`

	// Retention bounds the versions kept per key in the request, event and
	// exception logs.
	Retention int `yaml:"retention"`

	// PurityCheckP is the probability of recomputing a cached output to
	// compare it with the stored one. nil disables checking.
	PurityCheckP *float64 `yaml:"purity_check_p"`

	Cache         CacheConfig `yaml:"cache"`
	WorkerCommand []string    `yaml:"worker_command"`
	LogLevel      string      `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Backend:   BackendDir,
		BaseDir:   "pythagoras_store",
		Format:    string(persidict.FormatGob),
		Retention: 16,
		Cache: CacheConfig{
			Dir:       "pythagoras_cache",
			Read:      true,
			Write:     true,
			MaxKeyLen: 200,
		},
		LogLevel: "info",
	}
}

// Load merges defaults, the YAML file at path and PYTHAGORAS_* environment
// variables, in increasing priority, then validates the result. An empty
// path or a missing file leaves the defaults in place.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := loadEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, fmt.Errorf("load config env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = i
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("BACKEND", &cfg.Backend)
	str("BASE_DIR", &cfg.BaseDir)
	str("FORMAT", &cfg.Format)
	str("BUCKET", &cfg.Storage.Bucket)
	str("ENDPOINT", &cfg.Storage.Endpoint)
	str("REGION", &cfg.Storage.Region)
	str("ACCESS_KEY", &cfg.Storage.AccessKey)
	str("SECRET_KEY", &cfg.Storage.SecretKey)
	str("CREDENTIALS_FILE", &cfg.Storage.CredentialsFile)
	str("LOCAL_DIR", &cfg.Storage.LocalDir)
	integer("RETENTION", &cfg.Retention)
	str("CACHE_DIR", &cfg.Cache.Dir)
	boolean("CACHE_READ", &cfg.Cache.Read)
	boolean("CACHE_WRITE", &cfg.Cache.Write)
	integer("MAX_KEY_LEN", &cfg.Cache.MaxKeyLen)
	str("LOG_LEVEL", &cfg.LogLevel)

	if v, ok := lookup(EnvPrefix + "WORKER_COMMAND"); ok {
		cfg.WorkerCommand = nil
		if f := strings.Fields(v); len(f) > 0 {
			cfg.WorkerCommand = f
		}
	}
	if v, ok := lookup(EnvPrefix + "PURITY_CHECK_P"); ok {
		if v == "" || v == "off" {
			cfg.PurityCheckP = nil
		} else if p, err := strconv.ParseFloat(v, 64); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%sPURITY_CHECK_P: %w", EnvPrefix, err))
		} else {
			cfg.PurityCheckP = &p
		}
	}
	return errs
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs error
	switch c.Backend {
	case BackendDir:
		if c.BaseDir == "" {
			errs = multierr.Append(errs, errors.New("base_dir is required for the dir backend"))
		}
	case BackendS3, BackendGCS:
		if c.Storage.Bucket == "" {
			errs = multierr.Append(errs, fmt.Errorf("storage.bucket is required for the %s backend", c.Backend))
		}
	case BackendBadger:
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	errs = multierr.Append(errs, persidict.Format(c.Format).Validate())
	if c.Retention < 1 {
		errs = multierr.Append(errs, errors.New("retention must be >= 1"))
	}
	if p := c.PurityCheckP; p != nil && (*p < 0 || *p > 1) {
		errs = multierr.Append(errs, errors.New("purity_check_p must be between 0 and 1"))
	}
	if c.Cache.MaxKeyLen < 34 {
		errs = multierr.Append(errs, errors.New("cache.max_key_len must be >= 34"))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Environ renders c as PYTHAGORAS_* assignments, so a child process calling
// Load sees the same settings.
func (c Config) Environ() []string {
	env := []string{
		EnvPrefix + "BACKEND=" + c.Backend,
		EnvPrefix + "BASE_DIR=" + c.BaseDir,
		EnvPrefix + "FORMAT=" + c.Format,
		EnvPrefix + "BUCKET=" + c.Storage.Bucket,
		EnvPrefix + "ENDPOINT=" + c.Storage.Endpoint,
		EnvPrefix + "REGION=" + c.Storage.Region,
		EnvPrefix + "ACCESS_KEY=" + c.Storage.AccessKey,
		EnvPrefix + "SECRET_KEY=" + c.Storage.SecretKey,
		EnvPrefix + "CREDENTIALS_FILE=" + c.Storage.CredentialsFile,
		EnvPrefix + "LOCAL_DIR=" + c.Storage.LocalDir,
		EnvPrefix + "RETENTION=" + strconv.Itoa(c.Retention),
		EnvPrefix + "CACHE_DIR=" + c.Cache.Dir,
		EnvPrefix + "CACHE_READ=" + strconv.FormatBool(c.Cache.Read),
		EnvPrefix + "CACHE_WRITE=" + strconv.FormatBool(c.Cache.Write),
		EnvPrefix + "MAX_KEY_LEN=" + strconv.Itoa(c.Cache.MaxKeyLen),
		EnvPrefix + "LOG_LEVEL=" + c.LogLevel,
		EnvPrefix + "WORKER_COMMAND=" + strings.Join(c.WorkerCommand, " "),
	}
	p := "off"
	if c.PurityCheckP != nil {
		p = strconv.FormatFloat(*c.PurityCheckP, 'g', -1, 64)
	}
	return append(env, EnvPrefix+"PURITY_CHECK_P="+p)
}
