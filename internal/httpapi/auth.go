package httpapi

import (
	"net/http"
	"strings"
)

// parseAuthKey extracts the caller-supplied API key from the Authorization
// header. Both "Bearer <key>" and a bare key are accepted; a missing header
// yields "".
func parseAuthKey(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return ""
	}

	if key, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(key)
	}
	return auth
}
