package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/fedgate/pkg/observability"
	"github.com/platinummonkey/fedgate/pkg/wsfed"
)

// ErrInvalidCredentials is returned by CheckLogin when the username is
// unknown, the account is inactive, or the password does not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticator resolves the user behind a request or a credential pair.
// CheckAuth returns (nil, nil) when the request is anonymous; an error means
// a backend failure, not a failed login.
type Authenticator interface {
	CheckAuth(r *http.Request) (*User, error)
	CheckLogin(ctx context.Context, username, password string) (*User, error)
}

// TokenValidator validates a posted security token and yields its claims.
// *wsfed.Validator implements it.
type TokenValidator interface {
	Validate(raw []byte, wctx, expectedContext string) ([]wsfed.Claim, error)
}

// ProvisionOutcome reports what a provisioning run did to the user record.
type ProvisionOutcome string

const (
	// ProvisionCreated means the account was created on this login.
	ProvisionCreated ProvisionOutcome = "created"
	// ProvisionUpdated means a mapped field changed and the row was written.
	ProvisionUpdated ProvisionOutcome = "updated"
	// ProvisionUnchanged means the login was a true no-op.
	ProvisionUnchanged ProvisionOutcome = "noop"
)

// Provisioner maps validated claims onto a local user record.
// *provision.Provisioner implements it.
type Provisioner interface {
	Provision(ctx context.Context, claims []wsfed.Claim) (*User, ProvisionOutcome, error)
}

// PendingLogin is the state persisted between the sign-in redirect and the
// identity provider's callback.
type PendingLogin struct {
	ContextID string
	ReplyURL  string
}

// Federated authenticates WS-Federation callbacks and delegates everything
// else to a locally held fallback authenticator. Validation failures are
// logged with their kind and collapse into the fallback path; only storage
// and provisioning failures surface as errors.
type Federated struct {
	validator   TokenValidator
	provisioner Provisioner
	fallback    Authenticator
	logger      *observability.Logger
}

// NewFederated builds the federated authenticator around a fallback.
func NewFederated(validator TokenValidator, provisioner Provisioner, fallback Authenticator, logger *observability.Logger) *Federated {
	return &Federated{
		validator:   validator,
		provisioner: provisioner,
		fallback:    fallback,
		logger:      logger,
	}
}

// CheckAuth authenticates r. When r carries a wresult token it runs the
// validation pipeline against pending; otherwise, and whenever validation
// fails, the fallback authenticator decides. A nil user with nil error is an
// anonymous session.
func (f *Federated) CheckAuth(r *http.Request) (*User, error) {
	user, err := f.CheckCallback(r, nil)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}
	return f.fallback.CheckAuth(r)
}

// CheckCallback runs the token pipeline for a callback request. pending may
// be nil when no sign-in was initiated from this session; the context check
// then rejects the token. Returns (nil, nil) when the request carries no
// token or the token fails validation.
func (f *Federated) CheckCallback(r *http.Request, pending *PendingLogin) (*User, error) {
	wresult := r.PostFormValue("wresult")
	if wresult == "" {
		return nil, nil
	}

	expected := ""
	if pending != nil {
		expected = pending.ContextID
	}

	claims, err := f.validator.Validate([]byte(wresult), r.PostFormValue("wctx"), expected)
	if err != nil {
		f.logger.WithField("kind", string(wsfed.KindOf(err))).
			WithField("error", err.Error()).
			Warn("token validation failed, falling back to local authentication")
		return nil, nil
	}

	user, outcome, err := f.provisioner.Provision(r.Context(), claims)
	if err != nil {
		return nil, fmt.Errorf("provisioning federated user: %w", err)
	}

	f.logger.WithField("username", user.Username).
		WithField("outcome", string(outcome)).
		Info("federated sign-in")
	return user, nil
}

// CheckLogin always delegates to the fallback; federated accounts have no
// local password.
func (f *Federated) CheckLogin(ctx context.Context, username, password string) (*User, error) {
	return f.fallback.CheckLogin(ctx, username, password)
}

// Local authenticates against bcrypt password hashes stored in Postgres.
type Local struct {
	db *sql.DB
}

// NewLocal creates a password authenticator over db.
func NewLocal(db *sql.DB) *Local {
	return &Local{db: db}
}

// CheckAuth inspects HTTP basic credentials; requests without them are
// anonymous.
func (l *Local) CheckAuth(r *http.Request) (*User, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, nil
	}
	user, err := l.CheckLogin(r.Context(), username, password)
	if errors.Is(err, ErrInvalidCredentials) {
		return nil, nil
	}
	return user, err
}

// CheckLogin verifies username/password against the stored hash.
func (l *Local) CheckLogin(ctx context.Context, username, password string) (*User, error) {
	user := &User{}
	// Purely local accounts have NULL federation columns.
	var email, fullName, externalID, passwordHash sql.NullString
	err := l.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, external_id, auth_method, is_active, password_hash, created_at, updated_at, last_login_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &email, &fullName,
		&externalID, &user.AuthMethod, &user.IsActive, &passwordHash,
		&user.CreatedAt, &user.UpdatedAt, &user.LastLoginAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	user.Email = email.String
	user.FullName = fullName.String
	user.ExternalID = externalID.String

	if !user.IsActive || !passwordHash.Valid || passwordHash.String == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash.String), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// HashPassword produces a bcrypt hash suitable for the users table.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
