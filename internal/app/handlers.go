package app

import (
	"encoding/json"
	"fmt"
	"net/http"

	"sessionstore-go/internal/session"
	"sessionstore-go/internal/storage"
)

const counterKey = "counter"

// handleCounter increments a per-session counter and extends the session's
// expiry by the configured TTL.
func (a *Application) handleCounter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, ok := sessionFromContext(r)
	if !ok {
		// This should not happen if the middleware is applied correctly.
		http.Error(w, "Could not load session", http.StatusInternalServerError)
		return
	}

	count := counterValue(rec.Data[counterKey]) + 1
	rec.Data[counterKey] = count

	ttl := a.Config.Demo.SessionTTL.Duration
	expiresAt := a.now().Add(ttl)
	rec.Expiry = session.ExpiresAt(expiresAt)

	var err error
	if rec.ID == "" {
		_, err = a.Store.Create(ctx, rec)
	} else {
		err = a.Store.Save(ctx, rec)
	}
	if err != nil {
		a.Logger.ErrorContext(ctx, "failed to store session", "session_id", rec.ID, "error", err)
		http.Error(w, "Failed to store session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     a.Config.Demo.CookieName,
		Value:    rec.ID.String(),
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Counter: %d\n", count)
}

// counterValue reads the stored counter, which decodes as int64.
func counterValue(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// handleLogout removes the caller's session and clears the cookie.
func (a *Application) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(a.Config.Demo.CookieName)
	if err == nil && cookie.Value != "" {
		if err := a.Store.Delete(r.Context(), session.ID(cookie.Value)); err != nil {
			a.Logger.ErrorContext(r.Context(), "failed to delete session", "error", err)
			http.Error(w, "Failed to delete session", http.StatusInternalServerError)
			return
		}
	}

	a.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleStats reports table counts for backends that support them.
func (a *Application) handleStats(w http.ResponseWriter, r *http.Request) {
	reporter, ok := a.Storage.Backend.(storage.StatsReporter)
	if !ok {
		http.Error(w, "Stats not supported by this backend", http.StatusNotImplemented)
		return
	}

	// Make sure the table exists before counting it.
	if err := a.Store.Repository().EnsureTable(r.Context()); err != nil {
		a.Logger.ErrorContext(r.Context(), "failed to provision session table", "error", err)
		http.Error(w, "Failed to collect stats", http.StatusInternalServerError)
		return
	}

	stats, err := reporter.Stats(r.Context(), a.now())
	if err != nil {
		a.Logger.ErrorContext(r.Context(), "failed to collect session stats", "error", err)
		http.Error(w, "Failed to collect stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"total":        stats.Total,
		"expiring":     stats.Expiring,
		"expired":      stats.Expired,
		"collected_at": stats.CollectedAt,
	})
}

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
