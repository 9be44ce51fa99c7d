package auth

import "context"

type contextKey struct{}

// Context carries the authenticated caller through a request. GroupID is
// the active bill group selected on the session. ChangePending is set
// while a forced password change blocks tenant access.
type Context struct {
	UserID        int64
	GroupID       int64
	Role          string
	SessionID     int64
	ChangePending bool
}

func WithContext(ctx context.Context, ac Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (Context, bool) {
	ac, ok := ctx.Value(contextKey{}).(Context)
	return ac, ok
}

func UserID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.UserID
}

func GroupID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.GroupID
}

func IsAdmin(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.Role == "admin"
}
