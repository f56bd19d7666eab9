package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/harinnig/heymateBackend/internal/lifecycle"
)

const actorKey contextKey = "actor"

// Actor resolves the pre-validated identity headers set by the edge
// proxy into a lifecycle.Actor. Requests without both headers are
// refused; the service itself never parses credentials.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Actor-ID")
		role := lifecycle.Role(r.Header.Get("X-Actor-Role"))

		if id == "" || (role != lifecycle.RoleUser && role != lifecycle.RoleProvider) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{
					"code":       "authentication_required",
					"message":    "actor identity headers missing or invalid",
					"request_id": GetRequestID(r.Context()),
				},
			})
			return
		}

		ctx := context.WithValue(r.Context(), actorKey, lifecycle.Actor{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetActor returns the identity attached by Actor.
func GetActor(ctx context.Context) (lifecycle.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(lifecycle.Actor)
	return actor, ok
}
