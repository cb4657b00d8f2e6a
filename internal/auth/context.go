package auth

import "context"

type contextKey struct{}

// User is the authenticated caller of a user-facing route.
type User struct {
	ID int64
}

func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(contextKey{}).(User)
	return u, ok
}

// UserID returns the caller's id, or 0 for unauthenticated requests.
func UserID(ctx context.Context) int64 {
	u, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return u.ID
}
