package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/stretchr/testify/assert"
)

func TestNewRelayApp(t *testing.T) {
	repo := &database.MockRepository{}
	app := newTestApp(t, repo)

	assert.NotNil(t, app.srv, "expected http server to be initialized")
	assert.NotNil(t, app.relay, "expected relay to be set")
	assert.NotNil(t, app.blobs, "expected blob store to be set")
	assert.NotNil(t, app.translator, "expected translator to be set")
	assert.Equal(t, repo, app.db, "expected db to be set")
	assert.Equal(t, []byte("test-signing-key"), app.signingKey, "expected signing key to be set")
	assert.Equal(t, "localhost:8080", app.srv.Addr, "expected server address to match config")
}

func TestRelayApp_Routes(t *testing.T) {
	repo := database.NewMemoryRepository()
	app := newTestApp(t, repo)
	h := app.srv.Handler

	t.Run("health check is public", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("history requires a session", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("websocket requires a session", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("uploads are served", func(t *testing.T) {
		uploadDir := app.blobs.(interface{ Dir() string }).Dir()
		assert.NoError(t, os.WriteFile(filepath.Join(uploadDir, "abc.png"), []byte("img"), 0o644))

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/uploads/abc.png", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "img", rr.Body.String())
	})

	t.Run("cors preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/messages", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRelayApp_Shutdown(t *testing.T) {
	app := newTestApp(t, database.NewMemoryRepository())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.NoError(t, app.Shutdown(ctx), "expected shutdown of an idle server to succeed")
}
