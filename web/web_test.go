package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	resp := rec.Result()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHandlerServesPages(t *testing.T) {
	h, err := Handler()
	require.NoError(t, err)

	tests := []struct {
		path     string
		contains string
	}{
		{"/", "<title>Control Panel</title>"},
		{"/index.html", "<title>Control Panel</title>"},
		{"/login", "<title>Sign in</title>"},
		{"/login.html", "<title>Sign in</title>"},
		{"/settings/deep/link", "<title>Control Panel</title>"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := get(t, h, tt.path)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
			assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
			assert.Contains(t, body, tt.contains)
		})
	}
}

func TestHandlerServesAssets(t *testing.T) {
	h, err := Handler()
	require.NoError(t, err)

	resp, body := get(t, h, "/assets/login.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "/api/auth/login")

	resp, _ = get(t, h, "/favicon.ico")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerMissingAssetIsNotFound(t *testing.T) {
	h, err := Handler()
	require.NoError(t, err)

	resp, _ := get(t, h, "/assets/missing.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
