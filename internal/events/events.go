// Package events mirrors beacon traffic onto Kafka so it can be archived
// off the request path.
package events

import "time"

type Action string

const (
	ActionPing       Action = "ping"
	ActionDisconnect Action = "disconnect"
)

// BeaconEvent is the message published for every accepted beacon request.
type BeaconEvent struct {
	Action    Action    `json:"action"`
	Host      string    `json:"host"`
	Path      string    `json:"path"`
	VisitorID string    `json:"visitor_id"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
