package api

import "context"

// userIDContextKey is the context key for the authenticated user's ID.
type userIDContextKey struct{}

// WithUserID returns a new context with the authenticated user ID attached.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, id)
}

// UserIDFromContext extracts the authenticated user ID from the context.
// Returns the empty string for unauthenticated requests.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDContextKey{}).(string)
	return id
}
