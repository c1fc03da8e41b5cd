package api

import (
	"github.com/cuemby/cord/pkg/manager"
	"github.com/cuemby/cord/pkg/metrics"
)

// registerHealth wires the manager's storage check into /health and /ready.
// The "api" component is registered once the listener is up.
func registerHealth(mgr *manager.Manager) {
	if mgr == nil {
		metrics.RegisterComponent("storage", false, "manager not initialized")
		return
	}
	metrics.RegisterProbe("storage", mgr.Ping)
}
