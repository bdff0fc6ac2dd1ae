package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Realtime string `json:"realtime"` // "configured" or "disabled"
	Version  string `json:"version,omitempty"`
}

// StatusResponse is the response body for GET /api/v1/realtime/status.
type StatusResponse struct {
	Configured      bool            `json:"configured"`
	Publisher       bool            `json:"publisher"`
	UptimeSeconds   int64           `json:"uptime_seconds"`
	EventsDelivered uint64          `json:"events_delivered"`
	Channels        []ChannelStatus `json:"channels"`
}

// ChannelStatus describes one open channel.
type ChannelStatus struct {
	Key       string `json:"key"`
	Kind      string `json:"kind"`
	Scope     string `json:"scope,omitempty"`
	Listeners int    `json:"listeners"`
}

// PublishResponse is the response body for POST /api/v1/realtime/changes.
type PublishResponse struct {
	ID string `json:"id"`
}
