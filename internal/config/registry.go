package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/intakevox/internal/capture"
)

// ErrDeviceNotRegistered is returned by [Registry.CreateDevice] when no
// factory has been registered under the requested device name.
var ErrDeviceNotRegistered = errors.New("config: device not registered")

// DeviceFactory builds a capture device from its configuration entry.
type DeviceFactory func(DeviceConfig) (capture.Device, error)

// Registry maps device names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]DeviceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]DeviceFactory),
	}
}

// RegisterDevice registers a device factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDevice(name string, factory DeviceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[name] = factory
}

// CreateDevice instantiates the device registered under cfg.Name.
// Returns [ErrDeviceNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateDevice(cfg DeviceConfig) (capture.Device, error) {
	r.mu.RLock()
	factory, ok := r.devices[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotRegistered, cfg.Name)
	}
	d, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create device %q: %w", cfg.Name, err)
	}
	return d, nil
}

// DeviceNames returns the registered device names in sorted order.
func (r *Registry) DeviceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.devices))
	for name := range r.devices {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
