package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quatton/catmap-adapter/pkg/qlog"
	"github.com/quatton/catmap-adapter/pkg/qrunner"
)

func chdir(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	oldWd, _ := os.Getwd()
	if err := os.Chdir(tempDir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(oldWd) })
	return tempDir
}

func TestLoadConfig_Defaults(t *testing.T) {
	chdir(t)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Python != "python" {
		t.Errorf("Expected default python, got %s", cfg.Python)
	}
	if cfg.RunsDir != filepath.Join(".catmap", "runs") {
		t.Errorf("Expected default runsDir .catmap/runs, got %s", cfg.RunsDir)
	}
	if cfg.InputFilename != "mkm_job.py" || cfg.OutputFilename != "aiida.out" {
		t.Errorf("unexpected file names %s, %s", cfg.InputFilename, cfg.OutputFilename)
	}
	if cfg.WithMPI {
		t.Error("withMpi should default to false")
	}
	if cfg.Archive.Backend != BackendLocal || cfg.Archive.Dir != cfg.RunsDir {
		t.Errorf("Expected local archive in the runs dir, got %+v", cfg.Archive)
	}
	if cfg.DB.Port != 5432 || cfg.DB.SSLMode != "disable" {
		t.Errorf("unexpected db defaults %+v", cfg.DB)
	}
	if cfg.S3.Enabled() {
		t.Error("s3 should be disabled without an endpoint")
	}
	if cfg.Runner.Backend != RunnerLocal || cfg.Runner.Network != "none" {
		t.Errorf("unexpected runner defaults %+v", cfg.Runner)
	}
}

func TestLoadConfig_LocalOverride(t *testing.T) {
	chdir(t)

	projectConfig := `
python: python3
withMpi: true
env:
  OMP_NUM_THREADS: "1"
archive:
  backend: valkey
  ttl: 24h
`
	if err := os.WriteFile("catmap.yaml", []byte(projectConfig), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(ConfigRoot, 0755); err != nil {
		t.Fatal(err)
	}
	localConfig := `
python: /opt/catmap/bin/python
valkey:
  addr: valkey:6379
`
	if err := os.WriteFile(filepath.Join(ConfigRoot, "config.yaml"), []byte(localConfig), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Python != "/opt/catmap/bin/python" {
		t.Errorf("Expected python from local override, got %s", cfg.Python)
	}
	if !cfg.WithMPI {
		t.Error("withMpi from project config was lost")
	}
	if cfg.Env["OMP_NUM_THREADS"] != "1" {
		t.Errorf("Expected env OMP_NUM_THREADS=1, got %v", cfg.Env)
	}
	if cfg.Archive.Backend != BackendValkey || cfg.Archive.TTL != 24*time.Hour {
		t.Errorf("unexpected archive config %+v", cfg.Archive)
	}
	if cfg.Valkey.Addr != "valkey:6379" {
		t.Errorf("Expected valkey addr valkey:6379, got %s", cfg.Valkey.Addr)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	chdir(t)
	if err := os.WriteFile("catmap.yaml", []byte("python: python3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CATMAP_PYTHON", "pypy")
	t.Setenv("CATMAP_ARCHIVE_BACKEND", "postgres")
	t.Setenv("CATMAP_DB_HOST", "db.internal")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Python != "pypy" {
		t.Errorf("Expected python from env, got %s", cfg.Python)
	}
	if cfg.Archive.Backend != BackendPostgres {
		t.Errorf("Expected postgres archive from env, got %s", cfg.Archive.Backend)
	}
	if cfg.DB.Host != "db.internal" {
		t.Errorf("Expected db host from env, got %s", cfg.DB.Host)
	}
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	tempDir := chdir(t)
	if err := os.WriteFile("catmap.yaml", []byte("python: ignored\n"), 0644); err != nil {
		t.Fatal(err)
	}
	customPath := filepath.Join(tempDir, "custom.yaml")
	if err := os.WriteFile(customPath, []byte("python: custom\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(customPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Python != "custom" {
		t.Errorf("Expected python custom, got %s", cfg.Python)
	}
	if cfg.ConfigFileUsed() != customPath {
		t.Errorf("ConfigFileUsed = %s", cfg.ConfigFileUsed())
	}

	if _, err := LoadConfig(filepath.Join(tempDir, "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoadConfig_RejectsUnknownBackend(t *testing.T) {
	chdir(t)
	if err := os.WriteFile("catmap.yaml", []byte("archive:\n  backend: sqlite\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(""); err == nil {
		t.Error("expected error for unknown archive backend")
	}
}

func TestBackendsOpenLocal(t *testing.T) {
	dir := t.TempDir()
	opened, err := Backends{Archive: ArchiveConfig{Backend: BackendLocal, Dir: dir}}.Open(context.Background(), qlog.NewDiscard())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer opened.Close()
	if opened.Archive == nil {
		t.Fatal("local backend should provide an archive")
	}

	if _, err := (Backends{Archive: ArchiveConfig{Backend: BackendLocal}}).Open(context.Background(), qlog.NewDiscard()); err == nil {
		t.Error("local backend without a directory should fail")
	}
}

func TestBackendsOpenMemory(t *testing.T) {
	opened, err := Backends{Archive: ArchiveConfig{Backend: BackendMemory}}.Open(context.Background(), qlog.NewDiscard())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer opened.Close()
	if opened.Archive == nil {
		t.Error("memory backend should provide an archive")
	}
	if opened.Artifacts != nil {
		t.Error("artifacts should be nil without s3")
	}
}

func TestLoadConfig_DockerRunner(t *testing.T) {
	chdir(t)
	projectConfig := `
runner:
  backend: docker
  image: ghcr.io/example/catmap:0.3
  cpus: "2"
  memory: 1g
`
	if err := os.WriteFile("catmap.yaml", []byte(projectConfig), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CATMAP_RUNNER_PULL", "true")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	want := RunnerConfig{
		Backend: RunnerDocker,
		Image:   "ghcr.io/example/catmap:0.3",
		Pull:    true,
		CPUs:    "2",
		Memory:  "1g",
		Network: "none",
	}
	if cfg.Runner != want {
		t.Errorf("Runner = %+v, want %+v", cfg.Runner, want)
	}
}

func TestLoadConfig_RejectsBadRunner(t *testing.T) {
	tests := map[string]string{
		"unknown backend": "runner:\n  backend: slurm\n",
		"docker no image": "runner:\n  backend: docker\n",
		"bad memory":      "runner:\n  backend: docker\n  image: catmap\n  memory: lots\n",
	}
	for name, yaml := range tests {
		t.Run(name, func(t *testing.T) {
			chdir(t)
			if err := os.WriteFile("catmap.yaml", []byte(yaml), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(""); err == nil {
				t.Error("expected a runner validation error")
			}
		})
	}
}

func TestOpenRunner(t *testing.T) {
	opened, err := Backends{Archive: ArchiveConfig{Backend: BackendMemory}}.Open(context.Background(), qlog.NewDiscard())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer opened.Close()
	runsDir := t.TempDir()

	local, err := opened.OpenRunner(RunnerConfig{Backend: RunnerLocal}, runsDir, qlog.NewDiscard())
	if err != nil {
		t.Fatalf("OpenRunner(local) failed: %v", err)
	}
	if _, ok := local.(*qrunner.LocalRunner); !ok {
		t.Errorf("expected *qrunner.LocalRunner, got %T", local)
	}
	if local.RunDir("abc") != filepath.Join(runsDir, "abc") {
		t.Errorf("RunDir = %s", local.RunDir("abc"))
	}

	// The client connects lazily, so no daemon is needed here.
	docker, err := opened.OpenRunner(RunnerConfig{Backend: RunnerDocker, Image: "catmap"}, runsDir, qlog.NewDiscard())
	if err != nil {
		t.Fatalf("OpenRunner(docker) failed: %v", err)
	}
	if _, ok := docker.(*qrunner.DockerRunner); !ok {
		t.Errorf("expected *qrunner.DockerRunner, got %T", docker)
	}
	if docker.WorkDir("abc") != filepath.Join(runsDir, "abc", "work") {
		t.Errorf("WorkDir = %s", docker.WorkDir("abc"))
	}

	if _, err := opened.OpenRunner(RunnerConfig{Backend: RunnerDocker}, runsDir, qlog.NewDiscard()); err == nil {
		t.Error("docker runner without an image should fail")
	}
}
