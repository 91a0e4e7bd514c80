package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Status     string            `json:"status"` // "healthy"/"unhealthy" (health), "ready"/"not_ready" (readiness)
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

// HealthSource is implemented by a runtime component that can report its
// own current health on demand (the hypervisor binding, the event manager,
// the plugin manager, ...), so /health and /ready reflect live state
// instead of a snapshot frozen at registration time.
type HealthSource interface {
	Healthy() (bool, string)
}

var healthChecker = &HealthChecker{
	sources:   make(map[string]HealthSource),
	startTime: time.Now(),
}

// HealthChecker polls a set of named HealthSources on demand for the
// /health and /ready endpoints.
type HealthChecker struct {
	mu        sync.RWMutex
	sources   map[string]HealthSource
	startTime time.Time
	version   string
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// RegisterHealthSource adds source to the set polled under name. A later
// call with the same name replaces the earlier source.
func RegisterHealthSource(name string, source HealthSource) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.sources[name] = source
}

// criticalComponents names the sources GetReadiness requires before
// reporting "ready" — the minimum the run loop needs to dispatch events.
var criticalComponents = []string{"hypervisor", "event_manager", "plugin_manager"}

// GetHealth returns the overall health status, polling every registered
// source fresh.
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	sources := make(map[string]HealthSource, len(healthChecker.sources))
	for name, s := range healthChecker.sources {
		sources[name] = s
	}
	version := healthChecker.version
	startTime := healthChecker.startTime
	healthChecker.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string, len(sources))
	for name, source := range sources {
		if healthy, msg := source.Healthy(); !healthy {
			status = "unhealthy"
			components[name] = "unhealthy: " + msg
		} else {
			components[name] = "healthy"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    version,
		Uptime:     time.Since(startTime).String(),
		StartTime:  startTime,
	}
}

// GetReadiness returns readiness status: not_ready if any of
// criticalComponents is unregistered or reports unhealthy.
func GetReadiness() HealthStatus {
	healthChecker.mu.RLock()
	sources := make(map[string]HealthSource, len(healthChecker.sources))
	for name, s := range healthChecker.sources {
		sources[name] = s
	}
	version := healthChecker.version
	startTime := healthChecker.startTime
	healthChecker.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string, len(criticalComponents))

	for _, name := range criticalComponents {
		source, exists := sources[name]
		if !exists {
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
			continue
		}
		if healthy, msg := source.Healthy(); !healthy {
			status = "not_ready"
			message = "waiting for " + name
			components[name] = "not ready: " + msg
		} else {
			components[name] = "ready"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    version,
		Uptime:     time.Since(startTime).String(),
		StartTime:  startTime,
	}
}

// HealthHandler returns an HTTP handler for the /health endpoint
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()

		w.Header().Set("Content-Type", "application/json")

		statusCode := http.StatusOK
		if health.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)

		_ = json.NewEncoder(w).Encode(health)
	}
}

// ReadyHandler returns an HTTP handler for the /ready endpoint
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()

		w.Header().Set("Content-Type", "application/json")

		statusCode := http.StatusOK
		if readiness.Status != "ready" {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)

		_ = json.NewEncoder(w).Encode(readiness)
	}
}

// LivenessHandler returns a simple liveness check (always returns 200 if process is running)
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}
