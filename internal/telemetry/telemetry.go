// Package telemetry keeps the latest sensor readings reported by each device.
// Partial reports are merged, so a sensor keeps its last value until the
// device reports it again.
package telemetry

import (
	"context"
	"sync"

	"smartgarden/internal/automation"
	"smartgarden/internal/models"
)

// MemorySource is a process-local telemetry store
type MemorySource struct {
	mu   sync.RWMutex
	data map[string]models.SensorSnapshot
}

// NewMemorySource creates an empty in-memory source
func NewMemorySource() *MemorySource {
	return &MemorySource{data: make(map[string]models.SensorSnapshot)}
}

// Snapshot returns a copy of the latest readings of deviceID
func (m *MemorySource) Snapshot(_ context.Context, deviceID string) (models.SensorSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return automation.MergeTelemetry(nil, m.data[deviceID]), nil
}

// Update merges snap into the readings of deviceID
func (m *MemorySource) Update(_ context.Context, deviceID string, snap models.SensorSnapshot) (models.SensorSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	merged := automation.MergeTelemetry(m.data[deviceID], snap)
	m.data[deviceID] = merged
	return automation.MergeTelemetry(nil, merged), nil
}
