package controller

import "net/http"

// HandleHealth reports liveness plus a couple of cheap gauges.
func (c *Controller) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"mempool": c.App.Mempool.Len(),
	})
}
