package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"clinicdesk/internal/models"
)

// AccessCodeMiddleware gates the staff API behind the clinic's single
// shared access code. This is deliberately not real authentication; the
// deployment is one clinic with one code on a local network.
func AccessCodeMiddleware(code string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code == "" || isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		supplied := accessCodeFromRequest(r)
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(code)) != 1 {
			writeError(w, "", http.StatusUnauthorized, "unauthorized", "missing or wrong access code")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func accessCodeFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Access-Code"))
}

func roleFromRequest(r *http.Request) string {
	role := strings.TrimSpace(r.Header.Get("X-Clinic-Role"))
	switch role {
	case models.RoleDoctor, models.RoleSecretary, models.RoleDisplay:
		return role
	}
	return ""
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// The public display polls the snapshot without a code; it only ever sees
// the redacted view.
func isPublicEndpoint(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/realtime/") {
		// The realtime session checks the code itself; sockjs transports
		// cannot always carry headers.
		return true
	}
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	case "/api/visits/snapshot":
		return r.Method == http.MethodGet && r.URL.Query().Get("view") == "public"
	case "/api/settings":
		return r.Method == http.MethodGet
	default:
		return r.Method == http.MethodOptions
	}
}
