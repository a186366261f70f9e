package api

import (
	"github.com/mattjoyce/hostdispatch/internal/history"
	"github.com/mattjoyce/hostdispatch/internal/result"
)

// DispatchRequest is the JSON body for POST /dispatch/{host}/{operation}
type DispatchRequest struct {
	Args map[string]any `json:"args,omitempty"`
}

// DispatchResponse is returned once the dispatch finished. A failed dispatch
// is still a 200; the record carries failed/msg.
type DispatchResponse struct {
	DispatchID string        `json:"dispatch_id,omitempty"`
	Host       string        `json:"host"`
	Operation  string        `json:"operation"`
	Failed     bool          `json:"failed"`
	Result     result.Record `json:"result"`
}

// HistoryResponse is returned by GET /hosts/{host}/history
type HistoryResponse struct {
	Host     string          `json:"host"`
	Dispatch []history.Entry `json:"dispatches"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Hosts         int    `json:"hosts"`
	InFlight      int    `json:"in_flight"`
}
