package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionstore-go/internal/codec"
	"sessionstore-go/internal/config"
	"sessionstore-go/internal/session"
)

// doRequest sends a request through the application's router, carrying cookie
// if it is set, and returns the response and any session cookie it set.
func doRequest(t *testing.T, app *Application, method, path string, cookie *http.Cookie) (*httptest.ResponseRecorder, *http.Cookie) {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	app.HttpServer.Handler.ServeHTTP(rr, req)

	for _, c := range rr.Result().Cookies() {
		if c.Name == app.Config.Demo.CookieName {
			return rr, c
		}
	}
	return rr, nil
}

func TestHandleCounter_IncrementsAcrossRequests(t *testing.T) {
	app, _ := newTestApp(t)

	rr, cookie := doRequest(t, app, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Counter: 1\n", rr.Body.String())
	require.NotNil(t, cookie)
	require.NotEmpty(t, cookie.Value)

	for want := 2; want <= 3; want++ {
		rr, next := doRequest(t, app, http.MethodGet, "/", cookie)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "Counter: "+string(rune('0'+want))+"\n", rr.Body.String())
		require.NotNil(t, next)
		assert.Equal(t, cookie.Value, next.Value, "session id must be stable")
	}

	rec, err := app.Store.Load(context.Background(), session.ID(cookie.Value))
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Data["counter"])
}

func TestHandleCounter_ResetsAfterExpiry(t *testing.T) {
	app, now := newTestApp(t, func(c *config.Config) {
		c.Demo.SessionTTL = config.Duration{Duration: time.Minute}
	})

	_, cookie := doRequest(t, app, http.MethodGet, "/", nil)
	require.NotNil(t, cookie)
	rr, _ := doRequest(t, app, http.MethodGet, "/", cookie)
	assert.Equal(t, "Counter: 2\n", rr.Body.String())

	*now = now.Add(2 * time.Minute)

	rr, fresh := doRequest(t, app, http.MethodGet, "/", cookie)
	assert.Equal(t, "Counter: 1\n", rr.Body.String())
	require.NotNil(t, fresh)
	assert.NotEqual(t, cookie.Value, fresh.Value)
}

func TestHandleCounter_SweeperRemovesIdleSessions(t *testing.T) {
	app, now := newTestApp(t)

	_, cookie := doRequest(t, app, http.MethodGet, "/", nil)
	require.NotNil(t, cookie)

	*now = now.Add(app.Config.Demo.SessionTTL.Duration + time.Second)
	n, err := app.Sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err := app.Store.Load(context.Background(), session.ID(cookie.Value))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestHandleCounter_EncryptedPayloads(t *testing.T) {
	app, _ := newTestApp(t, func(c *config.Config) {
		c.Store.EncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	})

	_, cookie := doRequest(t, app, http.MethodGet, "/", nil)
	require.NotNil(t, cookie)
	rr, _ := doRequest(t, app, http.MethodGet, "/", cookie)
	assert.Equal(t, "Counter: 2\n", rr.Body.String())

	row, err := app.Store.Repository().Load(context.Background(), session.ID(cookie.Value))
	require.NoError(t, err)
	require.NotNil(t, row)
	_, err = codec.Decode(row.Data)
	assert.Error(t, err, "stored payload should not be a plain codec blob")
}

func TestHandleLogout(t *testing.T) {
	app, _ := newTestApp(t)

	_, cookie := doRequest(t, app, http.MethodGet, "/", nil)
	require.NotNil(t, cookie)

	rr, cleared := doRequest(t, app, http.MethodPost, "/logout", cookie)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	rec, err := app.Store.Load(context.Background(), session.ID(cookie.Value))
	require.NoError(t, err)
	assert.Nil(t, rec)

	rr, _ = doRequest(t, app, http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestHandleStats(t *testing.T) {
	app, now := newTestApp(t)

	doRequest(t, app, http.MethodGet, "/", nil)
	doRequest(t, app, http.MethodGet, "/", nil)
	*now = now.Add(time.Hour)

	rr, _ := doRequest(t, app, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(2), body["expiring"])
	assert.Equal(t, float64(2), body["expired"])
}

func TestHandleHealth(t *testing.T) {
	app, _ := newTestApp(t)

	rr, _ := doRequest(t, app, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestCounterValue(t *testing.T) {
	assert.Equal(t, int64(3), counterValue(int64(3)))
	assert.Equal(t, int64(3), counterValue(uint64(3)))
	assert.Equal(t, int64(3), counterValue(3))
	assert.Equal(t, int64(3), counterValue(3.0))
	assert.Equal(t, int64(0), counterValue("3"))
	assert.Equal(t, int64(0), counterValue(nil))
}
