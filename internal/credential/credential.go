// Package credential resolves the model API key for each request.
package credential

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/sistemas-dev/sistemas/internal/config"
)

const (
	// HeaderName carries a user-supplied key on API requests.
	HeaderName = "X-Gemini-Key"
	// QueryParam carries a user-supplied key on the voice socket, where
	// browsers cannot set headers.
	QueryParam = "key"

	keyPrefix = "AIza"
)

// ErrMissing is returned when a user-mode request carries no key.
var ErrMissing = fmt.Errorf("a Gemini API key is required: %w", errdefs.ErrPermissionDenied)

// ErrMalformed is returned when a key does not look like a Gemini key.
var ErrMalformed = fmt.Errorf(`invalid Gemini API key format, it should start with %q: %w`, keyPrefix, errdefs.ErrInvalidArgument)

type contextKey int

const apiKeyKey contextKey = iota

// Validate checks the shape of a user-supplied key.
func Validate(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissing
	}
	if !strings.HasPrefix(key, keyPrefix) {
		return ErrMalformed
	}
	return nil
}

// Resolver picks the key for a request according to the credential source.
type Resolver struct {
	Source  config.CredentialSource
	HostKey string
}

// Resolve returns the key to use for r.
func (res Resolver) Resolve(r *http.Request) (string, error) {
	if res.Source == config.CredentialHost {
		return res.HostKey, nil
	}
	key := strings.TrimSpace(r.Header.Get(HeaderName))
	if key == "" {
		key = strings.TrimSpace(r.URL.Query().Get(QueryParam))
	}
	if err := Validate(key); err != nil {
		return "", err
	}
	return key, nil
}

// WithAPIKey stores key in ctx.
func WithAPIKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, apiKeyKey, key)
}

// APIKeyFromContext extracts the key placed by Middleware.
func APIKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(apiKeyKey).(string); ok {
		return v
	}
	return ""
}

// Middleware resolves the key and rejects requests without a usable one.
// onError writes the rejection.
func Middleware(res Resolver, onError func(http.ResponseWriter, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := res.Resolve(r)
			if err != nil {
				onError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAPIKey(r.Context(), key)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
