package auth

import (
	"context"
)

// Identity is the signed-in customer extracted from a Firebase ID token.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
	Name          string
	// SignInProvider is the firebase.sign_in_provider claim (password, google.com, ...).
	SignInProvider string
	// IDToken is the raw bearer token, forwarded to the backend functions.
	IDToken string
}

type contextKey string

const identityContextKey contextKey = "github.com/taskilo/api/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
