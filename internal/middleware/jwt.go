// Package middleware resolves caller identity and guards the transports.
package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the identity carried by a validated token.
type Claims struct {
	Subject string
	Groups  []string
	Issuer  string
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

// HS256Validator validates tokens signed with a shared secret.
type HS256Validator struct {
	secret      []byte
	groupsClaim string
}

// NewHS256Validator creates a validator. Group memberships are read from the
// "groups" claim.
func NewHS256Validator(secret string) (*HS256Validator, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	return &HS256Validator{secret: []byte(secret), groupsClaim: "groups"}, nil
}

// Validate implements TokenValidator.
func (v *HS256Validator) Validate(_ context.Context, token string) (*Claims, error) {
	tok, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	raw, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("parse claims: unsupported claim type %T", tok.Claims)
	}

	c := &Claims{}
	c.Subject, _ = raw["sub"].(string)
	c.Issuer, _ = raw["iss"].(string)
	if c.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	switch g := raw[v.groupsClaim].(type) {
	case string:
		c.Groups = splitGroups(g)
	case []interface{}:
		for _, item := range g {
			if s, ok := item.(string); ok && s != "" {
				c.Groups = append(c.Groups, s)
			}
		}
	}
	return c, nil
}

// splitGroups parses a comma-separated group list.
func splitGroups(s string) []string {
	var out []string
	for _, g := range strings.Split(s, ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}
