package provision

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/platinummonkey/fedgate/pkg/auth"
	"github.com/platinummonkey/fedgate/pkg/observability"
	"github.com/platinummonkey/fedgate/pkg/wsfed"
)

// ErrProvisioningFailure marks a provisioning-stage failure. It is distinct
// from token-validation errors: the token was valid, but the local account
// could not be materialized, and the login must abort.
var ErrProvisioningFailure = errors.New("provisioning failure")

const (
	defaultIdentityField  = "external_id"
	defaultUsernameToken  = "federated-user"
	maxUsernameCandidates = 1000
	fieldEmail            = "email"
	fieldFullName         = "full_name"
)

// Config controls how projected fields become a user record.
type Config struct {
	// IdentityField is the local field carrying the identity provider's
	// stable identifier. Defaults to "external_id".
	IdentityField string
	// UsernameFields are composed in order into a candidate username for
	// newly created accounts.
	UsernameFields []string
	// DefaultUsername is used when the username fields project to nothing.
	// Defaults to "federated-user".
	DefaultUsername string
	// AuthMethod is stamped on provisioned accounts. Defaults to
	// auth.AuthMethodFederated.
	AuthMethod auth.AuthMethod
}

func (c Config) identityField() string {
	if c.IdentityField == "" {
		return defaultIdentityField
	}
	return c.IdentityField
}

func (c Config) defaultUsername() string {
	if c.DefaultUsername == "" {
		return defaultUsernameToken
	}
	return c.DefaultUsername
}

func (c Config) authMethod() auth.AuthMethod {
	if c.AuthMethod == "" {
		return auth.AuthMethodFederated
	}
	return c.AuthMethod
}

// Provisioner creates and updates user accounts from federation claims.
type Provisioner struct {
	db      *sql.DB
	mapping *FieldMapping
	config  Config
	logger  *observability.Logger
}

// NewProvisioner builds a Provisioner over db using mapping.
func NewProvisioner(db *sql.DB, mapping *FieldMapping, config Config, logger *observability.Logger) *Provisioner {
	return &Provisioner{db: db, mapping: mapping, config: config, logger: logger}
}

// Provision resolves claims to a user record, creating it on first login and
// updating it only when a mapped field changed. The returned outcome reports
// whether the account was created, updated, or untouched. A second call with
// identical claims is a true no-op: no row is written.
func (p *Provisioner) Provision(ctx context.Context, claims []wsfed.Claim) (*auth.User, auth.ProvisionOutcome, error) {
	fields := p.mapping.Project(claims)

	externalID := fields[p.config.identityField()]
	if externalID == "" {
		return nil, auth.ProvisionUnchanged, fmt.Errorf("%w: claims carry no %q field", ErrProvisioningFailure, p.config.identityField())
	}

	user, err := p.findByExternalID(ctx, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		created, err := p.create(ctx, externalID, fields)
		if err != nil {
			return nil, auth.ProvisionUnchanged, err
		}
		return created, auth.ProvisionCreated, nil
	}
	if err != nil {
		return nil, auth.ProvisionUnchanged, fmt.Errorf("%w: failed to look up external id: %w", ErrProvisioningFailure, err)
	}

	updated, changed, err := p.update(ctx, user, fields)
	if err != nil {
		return nil, auth.ProvisionUnchanged, err
	}
	if !changed {
		return updated, auth.ProvisionUnchanged, nil
	}
	p.logger.WithField("username", updated.Username).Debug("provisioned user updated")
	return updated, auth.ProvisionUpdated, nil
}

func (p *Provisioner) findByExternalID(ctx context.Context, externalID string) (*auth.User, error) {
	user := &auth.User{}
	var attrs []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, external_id, auth_method, is_active, attributes, created_at, updated_at, last_login_at
		FROM users
		WHERE external_id = $1
	`, externalID).Scan(&user.ID, &user.Username, &user.Email, &user.FullName,
		&user.ExternalID, &user.AuthMethod, &user.IsActive, &attrs,
		&user.CreatedAt, &user.UpdatedAt, &user.LastLoginAt)
	if err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &user.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode user attributes: %w", err)
		}
	}
	return user, nil
}

func (p *Provisioner) create(ctx context.Context, externalID string, fields map[string]string) (*auth.User, error) {
	username, err := p.resolveUsername(ctx, p.composeUsername(fields))
	if err != nil {
		return nil, err
	}

	user := &auth.User{
		Username:   username,
		Email:      fields[fieldEmail],
		FullName:   fields[fieldFullName],
		ExternalID: externalID,
		AuthMethod: p.config.authMethod(),
		IsActive:   true,
		Attributes: extraAttributes(fields, p.config.identityField()),
	}

	attrs, err := json.Marshal(user.Attributes)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode attributes: %w", ErrProvisioningFailure, err)
	}

	err = p.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, full_name, external_id, auth_method, is_active, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, $6, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, user.Username, user.Email, user.FullName, user.ExternalID,
		string(user.AuthMethod), attrs).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create user: %w", ErrProvisioningFailure, err)
	}

	p.logger.WithField("username", user.Username).
		WithField("external_id", externalID).
		Info("provisioned new user")
	return user, nil
}

// update writes the user row only when a mapped field differs from the
// stored value.
func (p *Provisioner) update(ctx context.Context, user *auth.User, fields map[string]string) (*auth.User, bool, error) {
	desired := *user
	if email, ok := fields[fieldEmail]; ok {
		desired.Email = email
	}
	if fullName, ok := fields[fieldFullName]; ok {
		desired.FullName = fullName
	}
	desired.AuthMethod = p.config.authMethod()
	desired.Attributes = extraAttributes(fields, p.config.identityField())

	if desired.Email == user.Email &&
		desired.FullName == user.FullName &&
		desired.AuthMethod == user.AuthMethod &&
		maps.Equal(desired.Attributes, user.Attributes) {
		return user, false, nil
	}

	attrs, err := json.Marshal(desired.Attributes)
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to encode attributes: %w", ErrProvisioningFailure, err)
	}

	err = p.db.QueryRowContext(ctx, `
		UPDATE users
		SET email = $1, full_name = $2, auth_method = $3, attributes = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at
	`, desired.Email, desired.FullName, string(desired.AuthMethod), attrs, user.ID).Scan(&desired.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to update user: %w", ErrProvisioningFailure, err)
	}
	return &desired, true, nil
}

// composeUsername joins the configured username fields in order, lowercased
// with spaces collapsed to dots.
func (p *Provisioner) composeUsername(fields map[string]string) string {
	var parts []string
	for _, field := range p.config.UsernameFields {
		if v := fields[field]; v != "" {
			parts = append(parts, v)
		}
	}
	username := strings.ToLower(strings.Join(parts, "."))
	username = strings.ReplaceAll(username, " ", ".")
	if username == "" {
		return p.config.defaultUsername()
	}
	return username
}

// resolveUsername finds the first free username, trying base, base2, base3
// and so on.
func (p *Provisioner) resolveUsername(ctx context.Context, base string) (string, error) {
	for i := 1; i <= maxUsernameCandidates; i++ {
		candidate := base
		if i > 1 {
			candidate = base + strconv.Itoa(i)
		}
		var taken bool
		err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, candidate).Scan(&taken)
		if err != nil {
			return "", fmt.Errorf("%w: failed to check username %q: %w", ErrProvisioningFailure, candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free username derived from %q", ErrProvisioningFailure, base)
}

// extraAttributes collects projected fields that have no dedicated column.
func extraAttributes(fields map[string]string, identityField string) map[string]string {
	attrs := make(map[string]string)
	for field, value := range fields {
		switch field {
		case identityField, fieldEmail, fieldFullName:
			continue
		}
		attrs[field] = value
	}
	return attrs
}
