package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var _ Authenticator = (*TokenAuthenticator)(nil)

// TokenAuthenticator validates the webapp's HS256 session tokens, read from
// the session cookie or an Authorization bearer header.
type TokenAuthenticator struct {
	secret     []byte
	cookieName string
}

func NewTokenAuthenticator(secret, cookieName string) *TokenAuthenticator {
	if cookieName == "" {
		cookieName = "classroom_session"
	}
	return &TokenAuthenticator{secret: []byte(secret), cookieName: cookieName}
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) (*Principal, error) {
	tokenString := a.tokenFromRequest(r)
	if tokenString == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := a.validateToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	role, _ := claims["role"].(string)

	return &Principal{UserID: sub, Role: role}, nil
}

func (a *TokenAuthenticator) tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(a.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func (a *TokenAuthenticator) validateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// MintToken issues a session token. The webapp's login flow owns this in
// production; the bridge exposes it for tests and local tooling.
func MintToken(secret []byte, userID, role string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
