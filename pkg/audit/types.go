package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	// Federation events
	EventTypeSignInRedirect  EventType = "federation.signin_redirect"
	EventTypeTokenAccepted   EventType = "federation.token_accepted"
	EventTypeTokenRejected   EventType = "federation.token_rejected"
	EventTypeUserProvisioned EventType = "federation.user_provisioned"
	EventTypeUserUpdated     EventType = "federation.user_updated"

	// Local authentication events
	EventTypeLocalLogin       EventType = "auth.local_login"
	EventTypeLocalLoginFailed EventType = "auth.local_login_failed"
	EventTypeLogout           EventType = "auth.logout"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	UserID   *int64 `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`

	// Federation context
	SessionID string `json:"session_id,omitempty"`
	ContextID string `json:"context_id,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Detail carries the specific outcome, for rejected tokens the
	// validation kind.
	Detail   string                 `json:"detail,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates an event with the timestamp set.
func NewEvent(eventType EventType, status EventStatus) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		Metadata:  make(map[string]interface{}),
	}
}
