package protocol

import (
	"time"

	"github.com/mattjoyce/hostdispatch/internal/operation"
	"github.com/mattjoyce/hostdispatch/internal/transport"
)

// Version is the only variant protocol version this build speaks.
const Version = 1

// Host identifies the managed host a variant acts on.
type Host struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Port    string `json:"port,omitempty"`
	User    string `json:"user,omitempty"`
}

// Request is the envelope written to a variant process on stdin.
type Request struct {
	Protocol   int                `json:"protocol"`
	DispatchID string             `json:"dispatch_id"`
	Operation  operation.Kind     `json:"operation"` // transfer | inventory
	Variant    string             `json:"variant"`   // e.g. transfer-openwrt
	Host       Host               `json:"host"`
	Args       map[string]any     `json:"args"`
	Facts      operation.Facts    `json:"facts"`
	Transport  transport.Snapshot `json:"transport"`
	DeadlineAt time.Time          `json:"deadline_at"`
}

// Response is the envelope a variant process writes on stdout.
type Response struct {
	Status string         `json:"status"` // ok | error
	Error  string         `json:"error,omitempty"`
	Result map[string]any `json:"result,omitempty"`
	Logs   []LogEntry     `json:"logs,omitempty"`
}

// LogEntry represents a log message from a variant.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}
