// Package auth identifies the browser user behind each bridge request from
// the classroom webapp's session token.
package auth

import (
	"errors"
	"net/http"
)

var ErrUnauthenticated = errors.New("no valid session credentials")

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   string
}

// Authenticator resolves the user behind an incoming request. The webapp's
// account system lives elsewhere; the bridge only needs to know who is
// asking before it checks session ownership with the agent service.
type Authenticator interface {
	Authenticate(r *http.Request) (*Principal, error)
}
