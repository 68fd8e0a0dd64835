package auth

import "time"

// AuthMethod marks how an account authenticates.
type AuthMethod string

const (
	// AuthMethodLocal is username/password against a stored bcrypt hash.
	AuthMethodLocal AuthMethod = "local"
	// AuthMethodFederated is WS-Federation single sign-on.
	AuthMethodFederated AuthMethod = "wsfed"
)

// User represents a local user account. Federated accounts carry the
// identity provider's identifier in ExternalID and have no password hash.
type User struct {
	ID          int64             `json:"id"`
	Username    string            `json:"username"`
	Email       string            `json:"email,omitempty"`
	FullName    string            `json:"full_name,omitempty"`
	ExternalID  string            `json:"external_id,omitempty"`
	AuthMethod  AuthMethod        `json:"auth_method"`
	IsActive    bool              `json:"is_active"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	LastLoginAt *time.Time        `json:"last_login_at,omitempty"`
}
