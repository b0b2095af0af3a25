package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/ghyeongl/drivemirror/remote/graph"
	"github.com/ghyeongl/drivemirror/remote/s3store"
)

// LogConfig configures logging.
type LogConfig struct {
	Dir   string `mapstructure:"dir" yaml:"dir"`
	Level string `mapstructure:"level" yaml:"level"`
}

// HasherConfig selects the local hash implementation.
type HasherConfig struct {
	Command         string `mapstructure:"command" yaml:"command"`
	DisableExternal bool   `mapstructure:"disable_external" yaml:"disable_external"`
}

// DirConfig configures the local-directory provider.
type DirConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// ServeConfig configures the long-running mode.
type ServeConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// RefreshHashes re-queries every cloud hash on each pass so remote
	// edits inside already indexed folders are picked up.
	RefreshHashes bool `mapstructure:"refresh_hashes" yaml:"refresh_hashes"`
}

// Config represents the application configuration.
type Config struct {
	IndexPath       string        `mapstructure:"index_path" yaml:"index_path"`
	LocalRoot       string        `mapstructure:"local_root" yaml:"local_root"`
	Provider        string        `mapstructure:"provider" yaml:"provider"`
	RootID          string        `mapstructure:"root_id" yaml:"root_id"`
	Workers         int           `mapstructure:"workers" yaml:"workers"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout" yaml:"download_timeout"`
	MinFree         string        `mapstructure:"min_free" yaml:"min_free"`
	IgnoreFile      string        `mapstructure:"ignore_file" yaml:"ignore_file"`

	Log    LogConfig      `mapstructure:"log" yaml:"log"`
	Hasher HasherConfig   `mapstructure:"hasher" yaml:"hasher"`
	Graph  graph.Config   `mapstructure:"graph" yaml:"graph"`
	S3     s3store.Config `mapstructure:"s3" yaml:"s3"`
	Dir    DirConfig      `mapstructure:"dir" yaml:"dir"`
	Serve  ServeConfig    `mapstructure:"serve" yaml:"serve"`
}

// New returns a viper instance with defaults, the env binding and the
// config search path set. cfgFile overrides the search path.
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/drivemirror/config.yaml
//   - the XDG config dirs
//
// Environment variables are prefixed with DRIVEMIRROR_ (e.g.
// DRIVEMIRROR_LOCAL_ROOT, DRIVEMIRROR_S3_BUCKET).
func New(cfgFile string) *viper.Viper {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
		for _, d := range xdg.ConfigDirs {
			v.AddConfigPath(filepath.Join(d, AppName))
		}
	}

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v.SetDefault)
	return v
}

// Load reads the config file (a missing one is fine unless it was named
// explicitly), unmarshals, expands ~ and validates.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.expand(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Dir returns the configuration directory.
func Dir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

func (c *Config) expand() error {
	for _, p := range []*string{
		&c.IndexPath, &c.LocalRoot, &c.IgnoreFile, &c.Log.Dir,
		&c.Graph.TokenFile, &c.Dir.Root,
	} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the settings that have no usable fallback.
func (c *Config) Validate() error {
	var errs []error
	if c.IndexPath == "" {
		errs = append(errs, errors.New("index_path is required"))
	}
	if c.LocalRoot == "" {
		errs = append(errs, errors.New("local_root is required"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if _, err := c.MinFreeBytes(); err != nil {
		errs = append(errs, err)
	}
	switch c.Provider {
	case ProviderGraph:
		if c.Graph.TokenFile == "" {
			errs = append(errs, errors.New("graph.token_file is required"))
		}
	case ProviderS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("s3.bucket is required"))
		}
	case ProviderDir:
		if c.Dir.Root == "" {
			errs = append(errs, errors.New("dir.root is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q (want graph, s3 or dir)", c.Provider))
	}
	return errors.Join(errs...)
}

// MinFreeBytes parses min_free ("0", "512MiB", "2 GB").
func (c *Config) MinFreeBytes() (uint64, error) {
	if c.MinFree == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.MinFree)
	if err != nil {
		return 0, fmt.Errorf("min_free: %w", err)
	}
	return n, nil
}

// IgnorePath returns the ignore file to load: ignore_file when set,
// otherwise the default name inside the config directory.
func (c *Config) IgnorePath(defaultName string) string {
	if c.IgnoreFile != "" {
		return c.IgnoreFile
	}
	return filepath.Join(Dir(), defaultName)
}
