package health

import (
	"sort"
	"sync"
	"time"
)

// Probe produces the current status of one component on demand.
type Probe func() Status

// Monitor tracks pushed statuses and polled probes for the node.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	probes   map[string]Probe
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		probes:   make(map[string]Probe),
	}
}

// Update records the status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// AddProbe registers a probe evaluated on every Get, GetAll or AggregateHealth.
// A probe replaces any pushed status of the same name.
func (m *Monitor) AddProbe(name string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
	m.probes[name] = probe
}

// Get retrieves the status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	probe, isProbe := m.probes[name]
	status, exists := m.statuses[name]
	m.mu.RUnlock()

	if isProbe {
		return evaluate(name, probe), true
	}
	return status, exists
}

// GetAll returns a copy of all current statuses
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	result := make(map[string]Status, len(m.statuses)+len(m.probes))
	for name, status := range m.statuses {
		result[name] = status
	}
	probes := make(map[string]Probe, len(m.probes))
	for name, probe := range m.probes {
		probes[name] = probe
	}
	m.mu.RUnlock()

	for name, probe := range probes {
		result[name] = evaluate(name, probe)
	}
	return result
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
	delete(m.probes, name)
}

// AggregateHealth returns the aggregated status of every component, sorted by name
func (m *Monitor) AggregateHealth(systemName string) Status {
	all := m.GetAll()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	subStatuses := make([]Status, 0, len(all))
	for _, name := range names {
		subStatuses = append(subStatuses, all[name])
	}
	return Aggregate(systemName, subStatuses)
}

// Count returns the number of components being monitored
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.statuses) + len(m.probes)
}

func evaluate(name string, probe Probe) Status {
	status := probe()
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	return status
}
