package core

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string                      `json:"status"`
	Version       string                      `json:"version"`
	UptimeSeconds int64                       `json:"uptime_seconds"`
	Dependencies  map[string]DependencyHealth `json:"dependencies"`
}

// DependencyHealth is the probe result for one backing service.
type DependencyHealth struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}
