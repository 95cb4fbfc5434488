package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// ExtractToken finds the bearer token of a request, looking in order at
// the Authorization header, the token query parameter and the token field of a JSON body.
// body is the already-read request payload and may be nil.
func ExtractToken(r *http.Request, body []byte) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Token)
}
