package controller

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Healthy bool      `json:"healthy"`
	State   LoopState `json:"state"`
}

// HealthHandler reports the loop's health: 200 once a cycle has committed and
// the loop is running, 503 otherwise.
func (c *Controller) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Healthy: c.Healthy(), State: c.State()}

		w.Header().Set("Content-Type", "application/json")
		if !resp.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}
