package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"vectorgate/internal/domain"
)

// Header names used to carry identity.
const (
	HeaderAuthorization = "Authorization"
	HeaderPrincipal     = "X-Principal"
	HeaderGroups        = "X-Groups"
)

// ErrUnauthenticated is returned when no acceptable identity was presented.
var ErrUnauthenticated = errors.New("unauthenticated")

// Credentials are the raw identity inputs of one request, independent of
// transport.
type Credentials struct {
	Authorization string
	Principal     string
	Groups        string
}

// Authenticator turns credentials into a principal. Bearer tokens are
// checked first; trusted headers are accepted only when enabled.
type Authenticator struct {
	validator    TokenValidator
	trustHeaders bool
	required     bool
}

// NewAuthenticator creates an Authenticator. A nil validator disables
// bearer tokens. With required unset, callers presenting nothing are
// treated as anonymous.
func NewAuthenticator(v TokenValidator, trustHeaders, required bool) *Authenticator {
	return &Authenticator{validator: v, trustHeaders: trustHeaders, required: required}
}

// Authenticate resolves the caller. A presented but invalid token always
// fails.
func (a *Authenticator) Authenticate(ctx context.Context, c Credentials) (domain.ContextPrincipal, error) {
	if token, ok := strings.CutPrefix(c.Authorization, "Bearer "); ok && a.validator != nil {
		claims, err := a.validator.Validate(ctx, strings.TrimSpace(token))
		if err != nil {
			return domain.ContextPrincipal{}, errors.Join(ErrUnauthenticated, err)
		}
		return domain.ContextPrincipal{Name: claims.Subject, Groups: claims.Groups}, nil
	}
	if a.trustHeaders && c.Principal != "" {
		return domain.ContextPrincipal{Name: c.Principal, Groups: splitGroups(c.Groups)}, nil
	}
	if a.required {
		return domain.ContextPrincipal{}, ErrUnauthenticated
	}
	return domain.Anonymous, nil
}

// HTTP attaches the caller to the request context or rejects the request
// with 401.
func (a *Authenticator) HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.Authenticate(r.Context(), Credentials{
			Authorization: r.Header.Get(HeaderAuthorization),
			Principal:     r.Header.Get(HeaderPrincipal),
			Groups:        r.Header.Get(HeaderGroups),
		})
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"code":    http.StatusUnauthorized,
				"message": "unauthorized: provide a valid bearer token",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(domain.WithPrincipal(r.Context(), p)))
	})
}
