package portal

import "context"

type sessionContextKey struct{}
type identityContextKey struct{}

// ContextWithSession binds a live session to the context. Policy checks and
// gateway calls made with the returned context use it.
func ContextWithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext returns the session bound to ctx.
func SessionFromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(sessionContextKey{}).(Session)
	if !ok || s == nil {
		return nil, false
	}
	return s, true
}

// ContextWithIdentity binds a fixed identity to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity for ctx. A bound session wins over
// a fixed identity since it reflects logouts immediately. The boolean is
// false when no identity is available.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if s, ok := SessionFromContext(ctx); ok {
		return s.Identity(), true
	}
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
