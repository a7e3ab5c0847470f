// Package identity models the acting user handed to every engine component.
// Components never read ambient session state; they receive an Identity.
package identity

import (
	"context"
	"strings"
)

// Identity is what the identity provider yields after authentication.
type Identity struct {
	// UserID is the provider's stable opaque subject.
	UserID string
	// Handle is email-like and only used to derive a display name.
	Handle string
}

func (i Identity) Valid() bool { return strings.TrimSpace(i.UserID) != "" }

// LocalPart returns the handle before '@', or "" when there is none.
func (i Identity) LocalPart() string {
	local, _, _ := strings.Cut(i.Handle, "@")
	return strings.TrimSpace(local)
}

type ctxKey struct{}

// NewContext attaches id to ctx. Only the transport layer does this; it
// hands the Identity to components explicitly afterwards.
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the Identity placed by NewContext.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.Valid()
}
