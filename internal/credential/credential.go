// Package credential resolves credential references into usernames and
// secrets at the moment a probe needs them. Nothing here persists a
// resolved credential.
package credential

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

var (
	// ErrUnknownScheme is returned for a reference whose scheme no provider
	// handles.
	ErrUnknownScheme = errors.New("unknown credential scheme")
	// ErrNotFound is returned when a reference names nothing.
	ErrNotFound = errors.New("credential not found")
)

// Credential is a resolved username and secret.
type Credential struct {
	Username string
	Password string
	Domain   string
}

// Account returns DOMAIN\user, or the bare username when no domain is set.
func (c *Credential) Account() string {
	if c.Domain == "" {
		return c.Username
	}
	return c.Domain + `\` + c.Username
}

// String never includes the password.
func (c Credential) String() string {
	if c.Username == "" {
		return "guest"
	}
	return c.Account() + ":<redacted>"
}

// LogValue keeps passwords out of structured logs.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user", c.Username),
		slog.String("domain", c.Domain),
	)
}

// Provider turns a reference into a Credential. An empty reference resolves
// to nil, meaning guest access.
type Provider interface {
	Resolve(ctx context.Context, ref string) (*Credential, error)
}

// Scheme returns the scheme of ref ("env", "file", "static"), or "" when ref
// has none.
func Scheme(ref string) string {
	scheme, _, ok := strings.Cut(ref, "://")
	if !ok {
		return ""
	}
	return scheme
}
