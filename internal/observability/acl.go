// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package observability

import "net/http"

// ACL gates access to the introspection API with a bearer token. An empty
// token disables the check entirely, so the API is open by default the way
// a local debugging endpoint is expected to be.
type ACL struct {
	token string
}

// NewACL builds an ACL from the configured token.
func NewACL(token string) *ACL {
	return &ACL{token: token}
}

// Middleware wraps next, rejecting requests missing a matching
// "Authorization: Bearer <token>" header when a token is configured.
func (a *ACL) Middleware(next http.Handler) http.Handler {
	if a.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.allowed(r.Header.Get("Authorization")) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *ACL) allowed(authHeader string) bool {
	const prefix = "Bearer "
	if len(authHeader) <= len(prefix) || authHeader[:len(prefix)] != prefix {
		return false
	}
	return authHeader[len(prefix):] == a.token
}
