package app

import (
	"context"
	"errors"
	"net/http"

	"sessionstore-go/internal/session"
)

// contextKey is a custom type to use as a key for context values.
type contextKey string

// sessionContextKey is the key for storing the session record in the request context.
const sessionContextKey = contextKey("session")

// loadSession attaches the caller's session record to the request context.
// A missing, expired or unreadable session is replaced by a fresh, unsaved
// record with an empty id.
func (a *Application) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rec := &session.Record{Data: map[string]any{}}

		cookie, err := r.Cookie(a.Config.Demo.CookieName)
		if err == nil && cookie.Value != "" {
			id := session.ID(cookie.Value)
			loaded, err := a.Store.Load(ctx, id)
			switch {
			case errors.Is(err, session.ErrDecode):
				a.Logger.WarnContext(ctx, "discarding unreadable session", "session_id", id, "error", err)
				a.clearCookie(w)
			case err != nil:
				a.Logger.ErrorContext(ctx, "failed to load session", "session_id", id, "error", err)
				http.Error(w, "Failed to load session", http.StatusInternalServerError)
				return
			case loaded == nil:
				a.clearCookie(w)
			case loaded.Expired(a.now()):
				// Expiry is advisory in the store; enforce it here.
				if err := a.Store.Delete(ctx, id); err != nil {
					a.Logger.WarnContext(ctx, "failed to delete expired session", "session_id", id, "error", err)
				}
				a.clearCookie(w)
			default:
				rec = loaded
			}
		}

		next.ServeHTTP(w, withSession(r, rec))
	})
}

// withSession adds the session record to the request's context.
func withSession(r *http.Request, rec *session.Record) *http.Request {
	ctx := context.WithValue(r.Context(), sessionContextKey, rec)
	return r.WithContext(ctx)
}

// sessionFromContext retrieves the session record from the request's context.
func sessionFromContext(r *http.Request) (*session.Record, bool) {
	rec, ok := r.Context().Value(sessionContextKey).(*session.Record)
	return rec, ok
}

func (a *Application) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.Config.Demo.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
