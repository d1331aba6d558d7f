package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizhenmiao/shopify-translation/internal/api/handlers"
	"github.com/lizhenmiao/shopify-translation/internal/auth"
	"github.com/lizhenmiao/shopify-translation/internal/db"
	"github.com/lizhenmiao/shopify-translation/internal/ws"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())
	return database
}

func TestRoutes_RequireKeyWhenConfigured(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, auth.SetKey(database, "secret"))

	mux := http.NewServeMux()
	SetupRoutes(mux, database, handlers.Deps{}, nil)
	srv := httptest.NewServer(Middleware(mux))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/resource-types")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/resource-types", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestMiddleware_RecoversPanics(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestMiddleware_AllowsWebSocketUpgrade(t *testing.T) {
	database := newTestDB(t)
	hub := ws.NewHub(nil)

	mux := http.NewServeMux()
	SetupRoutes(mux, database, handlers.Deps{}, hub.ServeWS)
	srv := httptest.NewServer(Middleware(mux))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	conn.Close()
}
