package opstate

import "time"

// Incident statuses as recorded by the surrounding dispatch platform.
const (
	StatusOpen   = "OPEN"
	StatusActive = "ACTIVE"
	StatusHeld   = "HELD"
	StatusClosed = "CLOSED"
)

// Incident is a read-only view of an incident record.
type Incident struct {
	ID         string    `json:"id"`
	Number     string    `json:"number"`
	Category   string    `json:"category"`
	Severity   string    `json:"severity"`
	Status     string    `json:"status"`
	Location   string    `json:"location"`
	HoldReason string    `json:"hold_reason,omitempty"`
	Priority   string    `json:"priority,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Unit is a read-only view of a unit record.
type Unit struct {
	ID         string    `json:"id"`
	CallSign   string    `json:"call_sign"`
	Status     string    `json:"status"`
	IncidentID string    `json:"incident_id,omitempty"`
	ArrivedAt  time.Time `json:"arrived_at,omitempty"`
	ClearedAt  time.Time `json:"cleared_at,omitempty"`
}

// Transport is a read-only view of a unit assignment that went to transport.
type Transport struct {
	UnitID         string    `json:"unit_id"`
	CallSign       string    `json:"call_sign"`
	IncidentID     string    `json:"incident_id"`
	TransportingAt time.Time `json:"transporting_at"`
	Destination    string    `json:"destination,omitempty"`
}
