package security

import (
	"encoding/json"
	"net/http"
	"strings"
)

// CredentialSource records which transport carried the resolved bearer
// credential, mostly for metrics.
type CredentialSource string

const (
	SourceNone   CredentialSource = "none"
	SourceHeader CredentialSource = "header"
	SourceCookie CredentialSource = "cookie"
)

// accessTokenCookies lists the cookie names inspected when no Authorization
// header is present, in strict priority order. The first entry is the current
// cookie; the other two are aliases written by earlier client releases.
var accessTokenCookies = []string{
	"gk_access_token",
	"sb-access-token",
	"supabase-auth-token",
}

// ResolveCredential extracts a canonical bearer credential from the request.
// Precedence: Authorization header, then cookies in fixed order. Absence is a
// valid outcome and is reported as SourceNone, never as an error.
func ResolveCredential(r *http.Request) (string, CredentialSource) {
	if token := bearerFromHeader(r.Header.Get("Authorization")); token != "" {
		return token, SourceHeader
	}
	for _, name := range accessTokenCookies {
		c, err := r.Cookie(name)
		if err != nil || c.Value == "" {
			continue
		}
		// First cookie present wins, even if its payload decodes to nothing.
		if token := decodeCookieToken(c.Value); token != "" {
			return token, SourceCookie
		}
		return "", SourceNone
	}
	return "", SourceNone
}

func bearerFromHeader(header string) string {
	parts := strings.Fields(header)
	if len(parts) < 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(strings.Join(parts[1:], " "))
}

// decodeCookieToken handles the legacy session-storage format where the
// cookie holds a JSON array whose first element is the access token. Anything
// that does not parse as such an array is taken as the raw token.
func decodeCookieToken(value string) string {
	var arr []string
	if err := json.Unmarshal([]byte(value), &arr); err == nil {
		if len(arr) == 0 {
			return ""
		}
		return arr[0]
	}
	return value
}

// GetCookie returns the named cookie's value, or empty when absent.
func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
