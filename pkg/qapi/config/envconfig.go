package config

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	catmapconfig "github.com/quatton/catmap-adapter/pkg/config"
	"github.com/quatton/catmap-adapter/pkg/db"
	"github.com/quatton/catmap-adapter/pkg/kv"
	"github.com/quatton/catmap-adapter/pkg/qapi/utils"
	"github.com/quatton/catmap-adapter/pkg/qart"
)

type EnvConfig struct {
	Port        string `envconfig:"PORT" default:"3000"`
	BaseURL     string `envconfig:"BASE_URL" default:"http://localhost:3000"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	Python         string            `envconfig:"CATMAP_PYTHON" default:"python"`
	RunsDir        string            `envconfig:"CATMAP_RUNS_DIR" default:".catmap/runs"`
	InputFilename  string            `envconfig:"CATMAP_INPUT_FILENAME" default:"mkm_job.py"`
	OutputFilename string            `envconfig:"CATMAP_OUTPUT_FILENAME" default:"aiida.out"`
	WithMPI        bool              `envconfig:"CATMAP_WITH_MPI" default:"false"`
	RunEnv         map[string]string `envconfig:"CATMAP_RUN_ENV"`

	RunnerBackend string `envconfig:"RUNNER_BACKEND" default:"local"`
	RunnerImage   string `envconfig:"RUNNER_IMAGE"`
	RunnerPull    bool   `envconfig:"RUNNER_PULL" default:"false"`
	RunnerCPUs    string `envconfig:"RUNNER_CPUS"`
	RunnerMemory  string `envconfig:"RUNNER_MEMORY"`
	RunnerNetwork string `envconfig:"RUNNER_NETWORK" default:"none"`

	ArchiveBackend string        `envconfig:"ARCHIVE_BACKEND" default:"local"`
	ArchiveDir     string        `envconfig:"ARCHIVE_DIR"`
	ArchiveTTL     time.Duration `envconfig:"ARCHIVE_TTL" default:"0s"`

	ValkeyAddr     string `envconfig:"VALKEY_ADDR" default:"localhost:6379"`
	ValkeyPassword string `envconfig:"VALKEY_PASSWORD"`
	ValkeyDB       int    `envconfig:"VALKEY_DB" default:"0"`

	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"catmap"`
	DBPassword string `envconfig:"DB_PASSWORD" default:"password"`
	DBName     string `envconfig:"DB_NAME" default:"catmap"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"catmap"`
	S3Region    string `envconfig:"S3_REGION"`
	S3UseSSL    bool   `envconfig:"S3_USE_SSL" default:"false"`
}

func ValidateEnv() (*EnvConfig, error) {
	if utils.IsDev() {
		if err := godotenv.Load(); err != nil {
			log.Println("ℹ No .env file found")
		} else {
			log.Println("✓ Loaded .env file")
		}
	}

	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if errs := cfg.validate(); len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return &cfg, nil
}

func (c *EnvConfig) validate() []string {
	var errs []string

	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		errs = append(errs, "  ❌ BASE_URL must be a valid URL")
	}

	switch c.ArchiveBackend {
	case catmapconfig.BackendLocal, catmapconfig.BackendMemory, catmapconfig.BackendValkey, catmapconfig.BackendPostgres:
	default:
		errs = append(errs, fmt.Sprintf("  ❌ ARCHIVE_BACKEND must be local, memory, valkey or postgres, got %q", c.ArchiveBackend))
	}

	if c.S3Endpoint != "" && (c.S3AccessKey == "" || c.S3SecretKey == "") {
		errs = append(errs, "  ❌ S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_ENDPOINT is set")
	}

	if c.Python == "" {
		errs = append(errs, "  ❌ CATMAP_PYTHON must not be empty")
	}

	if err := c.Runner().Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("  ❌ RUNNER_*: %v", err))
	}
	return errs
}

// Runner converts the RUNNER_* variables into the runner selection.
func (c *EnvConfig) Runner() catmapconfig.RunnerConfig {
	return catmapconfig.RunnerConfig{
		Backend: c.RunnerBackend,
		Image:   c.RunnerImage,
		Pull:    c.RunnerPull,
		CPUs:    c.RunnerCPUs,
		Memory:  c.RunnerMemory,
		Network: c.RunnerNetwork,
	}
}

// Backends converts the environment into the stores the server opens.
func (c *EnvConfig) Backends() catmapconfig.Backends {
	dir := c.ArchiveDir
	if dir == "" {
		dir = c.RunsDir
	}
	return catmapconfig.Backends{
		Archive: catmapconfig.ArchiveConfig{Backend: c.ArchiveBackend, Dir: dir, TTL: c.ArchiveTTL},
		Valkey:  kv.ValkeyConfig{Addr: c.ValkeyAddr, Password: c.ValkeyPassword, DB: c.ValkeyDB},
		DB: db.Config{
			Host:     c.DBHost,
			Port:     c.DBPort,
			User:     c.DBUser,
			Password: c.DBPassword,
			Database: c.DBName,
			SSLMode:  c.DBSSLMode,
		},
		S3: qart.S3Config{
			Endpoint:  c.S3Endpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Bucket:    c.S3Bucket,
			Region:    c.S3Region,
			UseSSL:    c.S3UseSSL,
		},
	}
}

func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

func (c *EnvConfig) Print(fmtr func(string, ...interface{})) {
	fmtr("📋 Configuration:\n")
	fmtr("  Environment: %s\n", c.Environment)
	fmtr("  Port: %s\n", c.Port)
	fmtr("  Base URL: %s\n", c.BaseURL)
	fmtr("  Python: %s (mpi=%t)\n", c.Python, c.WithMPI)
	fmtr("  Runs dir: %s\n", c.RunsDir)
	if c.RunnerBackend == catmapconfig.RunnerDocker {
		fmtr("  Runner: docker %s (network=%s)\n", c.RunnerImage, c.RunnerNetwork)
	} else {
		fmtr("  Runner: local\n")
	}

	switch c.ArchiveBackend {
	case catmapconfig.BackendValkey:
		fmtr("  Archive: valkey %s (password %s)\n", c.ValkeyAddr, MaskSecret(c.ValkeyPassword))
	case catmapconfig.BackendPostgres:
		fmtr("  Archive: postgres %s@%s:%d/%s (sslmode=%s, password %s)\n",
			c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode, MaskSecret(c.DBPassword))
	case catmapconfig.BackendMemory:
		fmtr("  Archive: in memory\n")
	default:
		fmtr("  Archive: %s\n", c.Backends().Archive.Dir)
	}

	if c.S3Endpoint != "" {
		fmtr("  Artifacts: ✓ %s/%s\n", c.S3Endpoint, c.S3Bucket)
		fmtr("    Access Key: %s\n", MaskSecret(c.S3AccessKey))
		fmtr("    Secret Key: %s\n", MaskSecret(c.S3SecretKey))
	} else {
		fmtr("  Artifacts: ✗ Disabled\n")
	}
}
