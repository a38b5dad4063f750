package identity

import "github.com/dreschagin/eventlogger/internal/application/port"

// Static returns a fixed identity. Empty values mean nobody is signed in.
type Static struct {
	UserID string
	Email  string
}

func (s Static) CurrentUserID() string {
	if s.UserID == "" {
		return port.IdentityUnauthenticated
	}
	return s.UserID
}

func (s Static) CurrentUserEmail() string {
	if s.Email == "" {
		return port.IdentityUnauthenticated
	}
	return s.Email
}
