package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Monitor tracks health of multiple components in a thread-safe manner
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
	}
}

// Update records the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// UpdateHealthy marks a component healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy marks a component unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded marks a component degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// Aggregate returns the system-wide health: unhealthy if any component is
// unhealthy, degraded if any is degraded, healthy otherwise
func (m *Monitor) Aggregate(systemName string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg := Status{
		Component: systemName,
		Healthy:   true,
		Status:    "healthy",
		Timestamp: time.Now(),
	}

	for _, s := range m.statuses {
		agg.SubStatuses = append(agg.SubStatuses, s)
		switch {
		case s.Status == "unhealthy":
			agg.Healthy = false
			agg.Status = "unhealthy"
		case s.Status == "degraded" && agg.Status == "healthy":
			agg.Healthy = false
			agg.Status = "degraded"
		}
	}

	return agg
}

// Handler serves the aggregate health as JSON; unhealthy aggregates get a
// 503 so load balancers can act on the status code alone
func (m *Monitor) Handler(systemName string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		agg := m.Aggregate(systemName)

		w.Header().Set("Content-Type", "application/json")
		if agg.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(agg)
	}
}
