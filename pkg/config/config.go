// Package config loads the catmapctl configuration with viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quatton/catmap-adapter/pkg/db"
	"github.com/quatton/catmap-adapter/pkg/kv"
	"github.com/quatton/catmap-adapter/pkg/qart"
	"github.com/quatton/catmap-adapter/pkg/qrunner"
)

type Config struct {
	Python         string            `mapstructure:"python"`
	RunsDir        string            `mapstructure:"runsDir"`
	InputFilename  string            `mapstructure:"inputFilename"`
	OutputFilename string            `mapstructure:"outputFilename"`
	WithMPI        bool              `mapstructure:"withMpi"`
	Env            map[string]string `mapstructure:"env"`
	LogLevel       string            `mapstructure:"logLevel"`

	Backends `mapstructure:",squash"`

	v *viper.Viper // instance-specific viper
}

// Backends selects where run outcomes and artifacts are kept.
type Backends struct {
	Archive ArchiveConfig   `mapstructure:"archive"`
	Valkey  kv.ValkeyConfig `mapstructure:"valkey"`
	DB      db.Config       `mapstructure:"db"`
	S3      qart.S3Config   `mapstructure:"s3"`
	Runner  RunnerConfig    `mapstructure:"runner"`
}

// RunnerConfig selects where the interpreter runs. The docker backend
// bind-mounts each run's work directory into Image.
type RunnerConfig struct {
	// Backend is "local" or "docker".
	Backend string `mapstructure:"backend"`
	Image   string `mapstructure:"image"`
	Pull    bool   `mapstructure:"pull"`
	CPUs    string `mapstructure:"cpus"`
	Memory  string `mapstructure:"memory"`
	Network string `mapstructure:"network"`
}

type ArchiveConfig struct {
	// Backend is one of "local", "memory", "valkey" or "postgres".
	Backend string `mapstructure:"backend"`
	// Dir holds outcome.json files for the local backend; defaults to
	// the runs directory.
	Dir string        `mapstructure:"dir"`
	TTL time.Duration `mapstructure:"ttl"`
}

const (
	EnvPrefix  = "CATMAP"
	ConfigName = "catmap"
	ConfigRoot = ".catmap"

	BackendLocal    = "local"
	BackendMemory   = "memory"
	BackendValkey   = "valkey"
	BackendPostgres = "postgres"

	RunnerLocal  = "local"
	RunnerDocker = "docker"
)

// LoadConfig creates a new Config instance with its own viper.
// cfgFile, when set, replaces the project and local config files.
func LoadConfig(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	} else {
		// project config (tracked)
		for _, name := range []string{ConfigName + ".yaml", ConfigName + ".yml", "." + ConfigName + ".yaml"} {
			if _, err := os.Stat(name); err == nil {
				v.SetConfigFile(name)
				if err := v.ReadInConfig(); err != nil {
					return nil, fmt.Errorf("reading config file %s: %w", name, err)
				}
				break
			}
		}

		// local overrides (untracked)
		localConfigPath := filepath.Join(ConfigRoot, "config.yaml")
		if _, err := os.Stat(localConfigPath); err == nil {
			v.SetConfigFile(localConfigPath)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("merging local config: %w", err)
			}
		}
	}

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Archive.Dir == "" {
		cfg.Archive.Dir = cfg.RunsDir
	}

	cfg.v = v
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("python", "python")
	v.SetDefault("runsDir", filepath.Join(ConfigRoot, "runs"))
	v.SetDefault("inputFilename", "mkm_job.py")
	v.SetDefault("outputFilename", "aiida.out")
	v.SetDefault("withMpi", false)
	v.SetDefault("env", map[string]string{})
	v.SetDefault("logLevel", "info")

	v.SetDefault("archive.backend", BackendLocal)
	v.SetDefault("archive.dir", "")
	v.SetDefault("archive.ttl", "0s")

	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("valkey.password", "")
	v.SetDefault("valkey.db", 0)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.database", "catmap")
	v.SetDefault("db.sslMode", "disable")

	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.accessKey", "")
	v.SetDefault("s3.secretKey", "")
	v.SetDefault("s3.bucket", "catmap")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.useSsl", false)

	v.SetDefault("runner.backend", RunnerLocal)
	v.SetDefault("runner.image", "")
	v.SetDefault("runner.pull", false)
	v.SetDefault("runner.cpus", "")
	v.SetDefault("runner.memory", "")
	v.SetDefault("runner.network", "none")
}

func (c *Config) validate() error {
	switch c.Archive.Backend {
	case BackendLocal, BackendMemory, BackendValkey, BackendPostgres:
	default:
		return fmt.Errorf("unknown archive backend %q", c.Archive.Backend)
	}
	if c.Archive.TTL < 0 {
		return fmt.Errorf("archive.ttl must not be negative")
	}
	return c.Runner.Validate()
}

// Validate checks the backend name and, for docker, the container settings.
func (r RunnerConfig) Validate() error {
	switch r.Backend {
	case RunnerLocal, "":
		return nil
	case RunnerDocker:
		if err := r.container().Validate(); err != nil {
			return fmt.Errorf("runner: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown runner backend %q", r.Backend)
	}
}

func (r RunnerConfig) container() qrunner.ContainerConfig {
	cc := qrunner.DefaultContainerConfig()
	cc.Image = r.Image
	cc.Pull = r.Pull
	cc.Resources = qrunner.ResourceRequirements{CPUs: r.CPUs, Memory: r.Memory}
	if r.Network != "" {
		cc.NetworkMode = r.Network
	}
	return cc
}

// Get returns a value from the underlying viper instance.
func (c *Config) Get(key string) interface{} {
	if c.v == nil {
		return nil
	}
	return c.v.Get(key)
}

// GetString returns a string value from the underlying viper instance.
func (c *Config) GetString(key string) string {
	if c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

// Viper returns the underlying viper instance.
func (c *Config) Viper() *viper.Viper {
	return c.v
}

// ConfigFileUsed returns the config file that was used (if any).
func (c *Config) ConfigFileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}
