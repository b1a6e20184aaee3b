package portal

import "context"

// Storage is durable session-scoped key/value storage.
// Implementations: storage/ (memory, file), storage/redisstore.
type Storage interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key.
	Set(ctx context.Context, key, value string) error

	// Delete removes all given keys in one operation.
	Delete(ctx context.Context, keys ...string) error
}

// Session is the read side of a session state store plus the single
// invalidation entry point used by the gateway.
// Implementations: session/.
type Session interface {
	// Identity returns the current identity snapshot.
	Identity() Identity

	// Credential returns the raw credential and its generation.
	Credential() (raw string, generation uint64, ok bool)

	// InvalidateGeneration runs the logout path if generation is still
	// current. It reports whether it acted.
	InvalidateGeneration(ctx context.Context, generation uint64) bool
}

// Authorizer decides whether the identity bound to ctx holds a capability.
// Implementations: authz/.
type Authorizer interface {
	// Check returns true if the current identity has the capability.
	Check(ctx context.Context, capability string) (bool, error)
}

// AuditService reads the audit trail and issues reverts.
type AuditService interface {
	// Stats returns aggregate counts over the audit log.
	Stats(ctx context.Context) (AuditStats, error)

	// Revert restores one field and returns the new REVERT entry.
	Revert(ctx context.Context, req RevertRequest) (AuditEntry, error)
}

// UserService manages portal accounts.
type UserService interface {
	// List returns all accounts.
	List(ctx context.Context) ([]User, error)

	// Delete removes an account.
	Delete(ctx context.Context, userID string) error
}
