package api

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var errUnauthorized = errors.New("unauthorized")

// authenticator checks bearer credentials on write routes. Any configured
// method may accept a request: a static token, a bcrypt hash of one, or an
// HS256 JWT.
type authenticator struct {
	token     []byte
	tokenHash []byte
	jwtKey    []byte
}

func newAuthenticator(c Config) (*authenticator, error) {
	a := &authenticator{}
	if c.AuthToken != "" {
		a.token = []byte(c.AuthToken)
	}
	if c.AuthTokenBcrypt != "" {
		if _, err := bcrypt.Cost([]byte(c.AuthTokenBcrypt)); err != nil {
			return nil, fmt.Errorf("authTokenBcrypt: %w", err)
		}
		a.tokenHash = []byte(c.AuthTokenBcrypt)
	}
	if c.JWTSecretB64 != "" {
		k, err := base64.StdEncoding.DecodeString(c.JWTSecretB64)
		if err != nil {
			return nil, fmt.Errorf("jwtSecretB64: %w", err)
		}
		if len(k) < 32 {
			return nil, errors.New("jwt secret must be >=32 bytes")
		}
		a.jwtKey = k
	}
	return a, nil
}

func (a *authenticator) enabled() bool {
	return a.token != nil || a.tokenHash != nil || a.jwtKey != nil
}

// verify returns who made the request: "token" for static credentials, the
// JWT subject otherwise.
func (a *authenticator) verify(r *http.Request) (string, error) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errUnauthorized
	}
	cred := []byte(parts[1])
	if a.token != nil && subtle.ConstantTimeCompare(cred, a.token) == 1 {
		return "token", nil
	}
	if a.tokenHash != nil && bcrypt.CompareHashAndPassword(a.tokenHash, cred) == nil {
		return "token", nil
	}
	if a.jwtKey != nil {
		var claims jwt.RegisteredClaims
		tok, err := jwt.ParseWithClaims(parts[1], &claims,
			func(*jwt.Token) (interface{}, error) { return a.jwtKey, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		)
		if err == nil && tok.Valid {
			return claims.Subject, nil
		}
	}
	return "", errUnauthorized
}
