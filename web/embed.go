// Package web embeds the chat page (dist/) and serves it under a path prefix.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// Handler serves the embedded chat page mounted at prefix (for example "/app").
// Paths that match no embedded file fall back to index.html.
func Handler(prefix string) http.Handler {
	subFS, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}

	prefix = strings.TrimSuffix(prefix, "/")
	fileServer := http.StripPrefix(prefix, http.FileServer(http.FS(subFS)))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, prefix), "/")
		if path == "" || path == "index.html" {
			// FileServer redirects explicit index.html requests to the directory.
			r.URL.Path = prefix + "/"
			fileServer.ServeHTTP(w, r)
			return
		}

		if f, err := subFS.Open(path); err == nil {
			if closeErr := f.Close(); closeErr != nil {
				slog.Debug("web: failed to close embedded file", "path", path, "error", closeErr)
			}
			fileServer.ServeHTTP(w, r)
			return
		}

		r.URL.Path = prefix + "/"
		fileServer.ServeHTTP(w, r)
	})
}
