package api

import (
	"context"
	"net/http"
	"strings"
)

// ActorHeader carries the id of the human reviewer making a request.
const ActorHeader = "X-Actor-ID"

// actorContextKey is the context key for the acting reviewer.
type actorContextKey struct{}

// WithActor returns a new context with the actor id attached.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor id from the context.
// Returns "anonymous" if not present or empty.
func ActorFromContext(ctx context.Context) string {
	actor, ok := ctx.Value(actorContextKey{}).(string)
	if !ok || actor == "" {
		return "anonymous"
	}
	return actor
}

// ActorMiddleware attaches the X-Actor-ID header value to the request context.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if len(actor) > 128 {
			actor = actor[:128]
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}
