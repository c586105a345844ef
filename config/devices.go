package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/voxbridge/phone-agent/types"
)

type deviceFile struct {
	Devices []types.DeviceConfig `yaml:"devices"`
}

// DeviceRegistry maps extensions and names to device identity profiles.
// Reload swaps the whole map atomically; callers that already hold a
// DeviceConfig keep their snapshot.
type DeviceRegistry struct {
	path string

	mu        sync.RWMutex
	byKey     map[string]types.DeviceConfig
	defaultEx string
}

func LoadDevices(path string) (*DeviceRegistry, error) {
	r := &DeviceRegistry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *DeviceRegistry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("reading devices file: %w", err)
	}

	var f deviceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing devices file: %w", err)
	}
	if len(f.Devices) == 0 {
		return fmt.Errorf("devices file %s defines no devices", r.path)
	}

	byKey := make(map[string]types.DeviceConfig, len(f.Devices)*2)
	defaultEx := f.Devices[0].Extension
	for _, d := range f.Devices {
		if d.Extension == "" {
			return fmt.Errorf("device %q has no extension", d.Name)
		}
		byKey[d.Extension] = d
		if d.Name != "" {
			byKey[d.Name] = d
		}
		if d.Default {
			defaultEx = d.Extension
		}
	}

	r.mu.Lock()
	r.byKey = byKey
	r.defaultEx = defaultEx
	r.mu.Unlock()
	return nil
}

// Get looks a device up by extension or name.
func (r *DeviceRegistry) Get(key string) (types.DeviceConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byKey[key]
	return d, ok
}

func (r *DeviceRegistry) GetDefault() types.DeviceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKey[r.defaultEx]
}

func (r *DeviceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for k, d := range r.byKey {
		if k == d.Extension {
			n++
		}
	}
	return n
}
