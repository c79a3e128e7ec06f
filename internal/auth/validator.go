package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned by Validate for a token past its
// expiry, distinguished from other validation failures so callers can
// report a precise Disconnect reason.
var ErrTokenExpired = errors.New("auth: token expired")

// Validator verifies bearer tokens and returns the decoded Claims.
// Two constructors exist: NewHMACValidator for a shared secret
// (HS256) and NewRSAValidator for a PEM-encoded public key (RS256).
// Issuer and audience are checked only when explicitly configured via
// WithIssuer/WithAudience; unset checks are skipped entirely.
type Validator struct {
	keyFunc  jwt.Keyfunc
	method   jwt.SigningMethod
	issuer   string
	audience string
}

// NewHMACValidator builds a Validator that verifies HS256 signatures
// using secret.
func NewHMACValidator(secret []byte) *Validator {
	return &Validator{
		method: jwt.SigningMethodHS256,
		keyFunc: func(*jwt.Token) (any, error) {
			return secret, nil
		},
	}
}

// NewRSAValidator builds a Validator that verifies RS256 signatures
// using the PEM-encoded public key.
func NewRSAValidator(publicKeyPEM []byte) (*Validator, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("auth: parse RSA public key: %w", err)
	}
	return &Validator{
		method: jwt.SigningMethodRS256,
		keyFunc: func(*jwt.Token) (any, error) {
			return key, nil
		},
	}, nil
}

// WithIssuer enables issuer validation against want.
func (v *Validator) WithIssuer(want string) *Validator {
	v.issuer = want
	return v
}

// WithAudience enables audience validation against want.
func (v *Validator) WithAudience(want string) *Validator {
	v.audience = want
	return v
}

// Validate parses and verifies token, returning its Claims. Signature
// and expiry are always checked; issuer/audience are checked only if
// configured on the Validator.
func (v *Validator) Validate(token string) (Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{v.method.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, v.keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("auth: validate token: %w", err)
	}
	if !parsed.Valid {
		return Claims{}, fmt.Errorf("auth: token failed validation")
	}

	return claims, nil
}

// EncodeHMAC signs claims with secret using HS256.
func EncodeHMAC(secret []byte, claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// EncodeRSA signs claims with the PEM-encoded RSA private key using
// RS256.
func EncodeRSA(privateKeyPEM []byte, claims Claims) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return "", fmt.Errorf("auth: parse RSA private key: %w", err)
	}
	return signWithRSA(claims, key)
}

func signWithRSA(claims Claims, key *rsa.PrivateKey) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}
