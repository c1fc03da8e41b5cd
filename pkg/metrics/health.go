package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus is the body served by /health and /ready
type HealthStatus struct {
	Status     string            `json:"status"` // "healthy", "unhealthy", "ready", "not_ready"
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

// Probe reports the live state of a component. A nil error means healthy.
type Probe func() error

var (
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}

	// criticalComponents must be registered and healthy before /ready reports ready
	criticalComponents = []string{"storage", "api"}
)

// ComponentHealth tracks the health of a single component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
	probe   Probe
}

// HealthChecker holds the registered components of the running server
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	startTime  time.Time
	version    string
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// RegisterComponent records a static health state for a component
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	healthChecker.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// UpdateComponent changes the recorded state of a component
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// RegisterProbe registers a component whose state is computed on every
// health request.
func RegisterProbe(name string, probe Probe) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	healthChecker.components[name] = ComponentHealth{
		Name:    name,
		Healthy: true,
		Updated: time.Now(),
		probe:   probe,
	}
}

// evaluate runs probes and returns a point-in-time view of every component
func evaluate() map[string]ComponentHealth {
	healthChecker.mu.RLock()
	snapshot := make(map[string]ComponentHealth, len(healthChecker.components))
	for name, comp := range healthChecker.components {
		snapshot[name] = comp
	}
	healthChecker.mu.RUnlock()

	for name, comp := range snapshot {
		if comp.probe == nil {
			continue
		}
		if err := comp.probe(); err != nil {
			comp.Healthy = false
			comp.Message = err.Error()
		} else {
			comp.Healthy = true
			comp.Message = ""
		}
		comp.Updated = time.Now()
		snapshot[name] = comp
	}
	return snapshot
}

func baseStatus() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()
	return HealthStatus{
		Timestamp: time.Now(),
		Version:   healthChecker.version,
		Uptime:    time.Since(healthChecker.startTime).String(),
		StartTime: healthChecker.startTime,
	}
}

// GetHealth returns the overall health status
func GetHealth() HealthStatus {
	status := baseStatus()
	status.Status = "healthy"
	status.Components = make(map[string]string)

	for name, comp := range evaluate() {
		if !comp.Healthy {
			status.Status = "unhealthy"
			status.Components[name] = "unhealthy: " + comp.Message
		} else {
			status.Components[name] = "healthy"
		}
	}
	return status
}

// GetReadiness reports whether the critical components are up
func GetReadiness() HealthStatus {
	status := baseStatus()
	status.Status = "ready"
	status.Components = make(map[string]string)

	components := evaluate()
	names := append([]string(nil), criticalComponents...)
	sort.Strings(names)

	for _, name := range names {
		comp, exists := components[name]
		switch {
		case !exists:
			status.Status = "not_ready"
			status.Message = "waiting for " + name + " initialization"
			status.Components[name] = "not registered"
		case !comp.Healthy:
			status.Status = "not_ready"
			status.Message = "waiting for " + name
			status.Components[name] = "not ready: " + comp.Message
		default:
			status.Components[name] = "ready"
		}
	}
	return status
}

func writeStatus(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// HealthHandler returns an HTTP handler for the /health endpoint
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		code := http.StatusOK
		if health.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, health)
	}
}

// ReadyHandler returns an HTTP handler for the /ready endpoint
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		code := http.StatusOK
		if readiness.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, readiness)
	}
}

// LivenessHandler answers 200 while the process is running
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}
