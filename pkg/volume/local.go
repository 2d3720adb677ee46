package volume

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/ringmaster/pkg/types"
)

const (
	// DefaultVolumesPath is the base directory for local volumes
	DefaultVolumesPath = "/var/lib/ringmaster/volumes"
)

// Driver provisions persistent volumes on an agent
type Driver interface {
	// Create provisions the volume and records its host path
	Create(volume *types.PersistentVolume) error

	// Delete removes the volume and its data
	Delete(volume *types.PersistentVolume) error

	// Mount returns the host path to bind into the node's sandbox
	Mount(volume *types.PersistentVolume) (string, error)

	// Path returns the host path for a volume
	Path(volume *types.PersistentVolume) string
}

// LocalDriver keeps volumes as directories under basePath/<agent>/<persistence id>
type LocalDriver struct {
	basePath string
}

var _ Driver = (*LocalDriver)(nil)

// NewLocalDriver creates a new local volume driver
func NewLocalDriver(basePath string) (*LocalDriver, error) {
	if basePath == "" {
		basePath = DefaultVolumesPath
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create volumes directory: %w", err)
	}

	return &LocalDriver{basePath: basePath}, nil
}

func validate(volume *types.PersistentVolume) error {
	if volume == nil || volume.PersistenceID == "" {
		return errors.New("volume has no persistence id")
	}
	if volume.AgentID == "" {
		return fmt.Errorf("volume %s has no agent", volume.PersistenceID)
	}
	return nil
}

// Create makes the volume directory. Creating an existing volume keeps its data.
func (d *LocalDriver) Create(volume *types.PersistentVolume) error {
	if err := validate(volume); err != nil {
		return err
	}

	path := d.Path(volume)
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create volume directory: %w", err)
	}

	volume.HostPath = path
	return nil
}

// Delete removes the volume directory and all contents
func (d *LocalDriver) Delete(volume *types.PersistentVolume) error {
	if err := validate(volume); err != nil {
		return err
	}

	path := d.Path(volume)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete volume directory: %w", err)
	}
	return nil
}

// Mount returns the host path of an existing volume
func (d *LocalDriver) Mount(volume *types.PersistentVolume) (string, error) {
	if err := validate(volume); err != nil {
		return "", err
	}

	path := d.Path(volume)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf("volume directory does not exist: %s", path)
	}
	return path, nil
}

// Path returns the host path for a volume
func (d *LocalDriver) Path(volume *types.PersistentVolume) string {
	return filepath.Join(d.basePath, volume.AgentID, volume.PersistenceID)
}
