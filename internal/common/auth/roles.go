// Package auth reads the role claims forwarded by the upstream authorizer.
package auth

import (
	"net/http"
	"strings"
)

// RolesHeader carries the authenticated user's roles, comma separated.
const RolesHeader = "x-user-roles"

const adminRole = "admin"

func roles(r *http.Request) []string {
	raw := r.Header.Get(RolesHeader)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

// IsAdmin reports whether the request carries the admin role.
func IsAdmin(r *http.Request) bool {
	for _, role := range roles(r) {
		if role == adminRole {
			return true
		}
	}
	return false
}
