package httpapi

import (
	"context"
	"net/http"
	"strings"

	"qms/clinic-queue-service/internal/models"
)

type authContextKey struct{}

// ActorMiddleware reads the caller identity that the gateway in front of
// this service has already authenticated.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		actor, ok, message := actorFromHeaders(r)
		if !ok {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", message)
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFromHeaders(r *http.Request) (models.Actor, bool, string) {
	id := strings.TrimSpace(r.Header.Get("X-Actor-ID"))
	if id == "" {
		return models.Actor{}, false, "missing actor"
	}
	role, err := models.ParseRole(strings.ToLower(strings.TrimSpace(r.Header.Get("X-Actor-Role"))))
	if err != nil {
		return models.Actor{}, false, "invalid actor role"
	}
	actor := models.Actor{ID: id, Role: role}
	if role == models.RoleStaff {
		actor.ClinicID = strings.TrimSpace(r.Header.Get("X-Clinic-ID"))
	}
	return actor, true, ""
}

func actorFromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(authContextKey{}).(models.Actor)
	return actor, ok
}

func requireActor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing actor")
		return models.Actor{}, false
	}
	return actor, true
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz":
		return true
	case "/api/register":
		return r.Method == http.MethodPost
	default:
		return r.Method == http.MethodOptions
	}
}
