package auth

import "strings"

// Wildcard grants every permission.
const Wildcard = "*"

// Context is the per-request identity and permission snapshot. Constructed per request, never stored.
type Context struct {
	APIKeyID      string
	Permissions   []string
	Authenticated bool
}

// Anonymous is the context used when auth is disabled: wildcard
// permission, not authenticated.
func Anonymous() *Context {
	return &Context{Permissions: []string{Wildcard}, Authenticated: false}
}

// HasPermission applies the matching rules in order: wildcard, exact
// match, then prefix patterns ending in "*".
func (c *Context) HasPermission(required string) bool {
	for _, p := range c.Permissions {
		if p == Wildcard {
			return true
		}
		if p == required {
			return true
		}
		// Patterns end in "*": strip it and prefix-match, so "tools:*"
		// allows "tools:search" and "tools:echo.*" allows "tools:echo.say".
		if strings.HasSuffix(p, "*") {
			prefix := strings.TrimSuffix(p, "*")
			if strings.HasPrefix(required, prefix) {
				return true
			}
		}
	}
	return false
}

// ToolPermission is the permission string a tools/call for name requires.
func ToolPermission(name string) string {
	return "tools:" + name
}
