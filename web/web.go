// Package web serves the control panel's embedded pages and assets.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed dist/*
var content embed.FS

// Handler returns an http.Handler that serves the embedded UI. It does not
// authenticate anything; callers wrap it in the page gate.
func Handler() (http.Handler, error) {
	fsys, err := fs.Sub(content, "dist")
	if err != nil {
		return nil, fmt.Errorf("loading embedded web assets: %w", err)
	}

	indexBytes, err := fs.ReadFile(fsys, "index.html")
	if err != nil {
		return nil, fmt.Errorf("reading embedded index.html: %w", err)
	}
	loginBytes, err := fs.ReadFile(fsys, "login.html")
	if err != nil {
		return nil, fmt.Errorf("reading embedded login.html: %w", err)
	}

	static := http.FileServer(http.FS(fsys))

	serveHTML := func(body []byte) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			w.Write(body)
		}
	}
	serveIndex := serveHTML(indexBytes)
	serveLogin := serveHTML(loginBytes)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cleanPath := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		switch cleanPath {
		case ".", "", "index.html":
			serveIndex(w, r)
			return
		case "login", "login.html":
			serveLogin(w, r)
			return
		}

		if _, err := fs.Stat(fsys, cleanPath); err == nil {
			static.ServeHTTP(w, r)
			return
		}
		if strings.HasPrefix(cleanPath, "assets/") {
			http.NotFound(w, r)
			return
		}

		// Deep-link fallback.
		serveIndex(w, r)
	}), nil
}
