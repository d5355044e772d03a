package auth

import (
	"crypto/subtle"
	"errors"
)

// ErrInvalidCredentials is returned by Login on a bad username or password.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// Authenticator checks the single configured operator account.
type Authenticator struct {
	operator     string
	passwordHash string
	checker      PasswordChecker
	tokens       *TokenService
}

// NewAuthenticator builds Authenticator.
func NewAuthenticator(operator, passwordHash string, checker PasswordChecker, tokens *TokenService) *Authenticator {
	return &Authenticator{
		operator:     operator,
		passwordHash: passwordHash,
		checker:      checker,
		tokens:       tokens,
	}
}

// Tokens returns the token service used to sign sessions.
func (a *Authenticator) Tokens() *TokenService {
	return a.tokens
}

// Login verifies credentials and issues a token.
func (a *Authenticator) Login(username, password string) (string, error) {
	if a.operator == "" || a.passwordHash == "" {
		return "", ErrInvalidCredentials
	}
	nameOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.operator)) == 1
	if err := a.checker.Check(a.passwordHash, password); err != nil || !nameOK {
		return "", ErrInvalidCredentials
	}
	return a.tokens.GenerateToken(username)
}
