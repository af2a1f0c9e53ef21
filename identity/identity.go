package identity

import (
	"github.com/plantinhas/authgate/models"
)

const secretRedacted = "[REDACTED]"

// Secret holds a raw token. It prints and serializes as a placeholder.
type Secret string

func (s Secret) String() string { return secretRedacted }

func (s Secret) GoString() string { return secretRedacted }

// Value returns the raw token
func (s Secret) Value() string { return string(s) }

// MarshalText implements encoding.TextMarshaler with the placeholder
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }

// Identity is an authenticated user for the lifetime of one request.
// Token is the credential the user presented; it is never stored with the user record.
type Identity struct {
	UserID   string       `json:"user_id"`
	Username string       `json:"username,omitempty"`
	User     *models.User `json:"-"`
	Token    Secret       `json:"-"`
}

// New binds a stored user to the token it authenticated with
func New(user *models.User, raw string) *Identity {
	return &Identity{
		UserID:   user.ID,
		Username: user.Username,
		User:     user,
		Token:    Secret(raw),
	}
}
