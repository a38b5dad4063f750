package port

// Sentinel identity values returned instead of errors.
const (
	IdentityUnauthenticated = "null"
	IdentityUninitialized   = "uninitialized"
)

// IdentityProvider resolves the current user for event enrichment.
// Implementations never panic or block for long; they return
// IdentityUnauthenticated when nobody is signed in and IdentityUninitialized
// when the identity subsystem itself is not ready.
type IdentityProvider interface {
	CurrentUserID() string
	CurrentUserEmail() string
}
