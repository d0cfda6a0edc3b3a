// Package authmw provides HTTP middleware for bearer token authentication
// of department staff.
package authmw

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

// Credential binds a bearer token to the actor name recorded in the audit
// trail for requests that present it.
type Credential struct {
	Actor string
	Token string
}

type actorKey struct{}

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (string, bool) {
	a, ok := ctx.Value(actorKey{}).(string)
	return a, ok && a != ""
}

// ParseCredentials parses a comma-separated list of actor=token pairs.
// An entry without "=" is a token for the actor "api".
func ParseCredentials(s string) ([]Credential, error) {
	var out []Credential
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		actor, token, found := strings.Cut(part, "=")
		if !found {
			actor, token = "api", part
		}
		actor, token = strings.TrimSpace(actor), strings.TrimSpace(token)
		if actor == "" || token == "" {
			return nil, fmt.Errorf("malformed credential %q (want actor=token)", part)
		}
		out = append(out, Credential{Actor: actor, Token: token})
	}
	return out, nil
}

// BearerToken returns middleware that requires an Authorization header with
// one of creds' tokens and puts the matching actor on the request context.
// Every credential is compared in constant time.
func BearerToken(creds ...Credential) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			got := []byte(auth[len("Bearer "):])

			actor := ""
			for _, c := range creds {
				if c.Token != "" && subtle.ConstantTimeCompare(got, []byte(c.Token)) == 1 && actor == "" {
					actor = c.Actor
				}
			}
			if actor == "" {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
		})
	}
}
