// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/bureau-foundation/chatcore/lib/tier"
)

var (
	// ErrMissingToken is returned when a request has no bearer token.
	ErrMissingToken = errors.New("httpapi: missing bearer token")

	// ErrInvalidToken is returned for any token that fails
	// verification.
	ErrInvalidToken = errors.New("httpapi: invalid bearer token")
)

// Identity is the caller established by a verified token.
type Identity struct {
	UserID   string
	TenantID string

	// Tier is always set on a verified identity; a token without a
	// tier claim is basic.
	Tier  string
	Admin bool
}

// Claims is the token payload. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	Tier     string `json:"tier,omitempty"`
	Admin    bool   `json:"admin,omitempty"`
}

// Authenticator issues and verifies HS256 tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator creates an Authenticator. An empty issuer accepts
// tokens from any issuer.
func NewAuthenticator(secret, issuer string) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("httpapi: jwt secret is empty")
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer}, nil
}

// Issue signs a token for identity valid for lifetime from now.
func (a *Authenticator) Issue(identity Identity, now time.Time, lifetime time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
		TenantID: identity.TenantID,
		Tier:     identity.Tier,
		Admin:    identity.Admin,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("httpapi: signing token: %w", err)
	}
	return signed, nil
}

// Verify parses the value of an Authorization header.
func (a *Authenticator) Verify(header string) (Identity, error) {
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(tokenString) == "" {
		return Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenString), claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: expired", ErrInvalidToken)
		}
		return Identity{}, ErrInvalidToken
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return Identity{}, fmt.Errorf("%w: wrong issuer", ErrInvalidToken)
	}
	if claims.Subject == "" || claims.TenantID == "" {
		return Identity{}, fmt.Errorf("%w: missing subject or tenant", ErrInvalidToken)
	}
	plan := tier.Basic
	if claims.Tier != "" {
		plan, err = tier.Parse(claims.Tier)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
	}

	return Identity{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Tier:     string(plan),
		Admin:    claims.Admin,
	}, nil
}

type identityKey struct{}

func withIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the verified caller, if authentication is on.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}
