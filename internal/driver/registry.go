// internal/driver/registry.go
package driver

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"adc-service/internal/config"
	"adc-service/internal/model"
	"adc-service/pkg/driver"
)

// DriverFactory creates a driver for one configured instrument
type DriverFactory func(device *model.Device, deviceConfig *config.DeviceConfig, logger *zap.Logger) (driver.DeviceDriver, error)

// Wildcard matches any model
const Wildcard = "*"

// Registry manages device driver registration and creation
type Registry struct {
	drivers map[string]DriverFactory
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewRegistry creates a new driver registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		drivers: make(map[string]DriverFactory),
		logger:  logger,
	}
}

// Register registers a driver factory for a model name (case-insensitive)
func (r *Registry) Register(model string, factory DriverFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.drivers[strings.ToUpper(model)] = factory
	r.logger.Info("Driver registered", zap.String("model", model))
}

// CreateDriver creates a driver instance
func (r *Registry) CreateDriver(device *model.Device, deviceConfig *config.DeviceConfig) (driver.DeviceDriver, error) {
	factory, ok := r.lookup(device.Model)
	if !ok {
		return nil, fmt.Errorf("no driver found for model=%s", device.Model)
	}
	return factory(device, deviceConfig, r.logger)
}

// IsSupported checks if a model has a driver
func (r *Registry) IsSupported(model string) bool {
	_, ok := r.lookup(model)
	return ok
}

// ListDrivers returns all registered model names, sorted
func (r *Registry) ListDrivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.drivers))
	for m := range r.drivers {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

func (r *Registry) lookup(model string) (DriverFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Try exact match first
	if factory, ok := r.drivers[strings.ToUpper(model)]; ok {
		return factory, true
	}
	factory, ok := r.drivers[Wildcard]
	return factory, ok
}
