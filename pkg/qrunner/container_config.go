package qrunner

import (
	"errors"
	"fmt"
	"strconv"

	units "github.com/docker/go-units"
)

// ContainerWorkDir is where a run's work directory is mounted inside the
// container.
const ContainerWorkDir = "/catmap/work"

// ContainerConfig represents configuration for container-based runners
type ContainerConfig struct {
	// Image must provide the Python interpreter with catmap installed
	Image string

	// Pull the image before every run instead of relying on the local cache
	Pull bool

	// Resources defines CPU and memory constraints
	Resources ResourceRequirements

	// Mounts are added next to the work directory mount
	Mounts []Mount

	// NetworkMode defines the network configuration (e.g., "none", "bridge")
	NetworkMode string
}

// ResourceRequirements uses docker CLI notation: CPUs "1.5", Memory "512m".
// Empty values leave the daemon defaults.
type ResourceRequirements struct {
	CPUs   string
	Memory string
}

// Mount represents a volume mount for containers
type Mount struct {
	// Type is the mount type: "bind" for host paths, "volume" for named volumes
	Type string

	// Source is the source path (host) or volume name
	Source string

	// Destination is the target path inside the container
	Destination string

	// ReadOnly indicates if the mount should be read-only
	ReadOnly bool
}

// DefaultContainerConfig returns the settings used when only an image is
// configured. CatMAP needs no network.
func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{NetworkMode: "none"}
}

// Validate checks the image and resource notation.
func (c ContainerConfig) Validate() error {
	if c.Image == "" {
		return errors.New("container image is required")
	}
	if _, err := c.Resources.nanoCPUs(); err != nil {
		return err
	}
	if _, err := c.Resources.memoryBytes(); err != nil {
		return err
	}
	for _, m := range c.Mounts {
		if m.Source == "" || m.Destination == "" {
			return fmt.Errorf("mount %+v needs a source and a destination", m)
		}
	}
	return nil
}

func (r ResourceRequirements) nanoCPUs() (int64, error) {
	if r.CPUs == "" {
		return 0, nil
	}
	cpus, err := strconv.ParseFloat(r.CPUs, 64)
	if err != nil || cpus <= 0 {
		return 0, fmt.Errorf("invalid cpus %q", r.CPUs)
	}
	return int64(cpus * 1e9), nil
}

func (r ResourceRequirements) memoryBytes() (int64, error) {
	if r.Memory == "" {
		return 0, nil
	}
	b, err := units.RAMInBytes(r.Memory)
	if err != nil || b <= 0 {
		return 0, fmt.Errorf("invalid memory %q", r.Memory)
	}
	return b, nil
}
