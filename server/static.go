package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// FrontendHandler serves the built single-page frontend: real files when
// they exist, index.html for anything else so client-side routes resolve.
func FrontendHandler(dir string) http.HandlerFunc {
	fileServer := http.FileServer(http.Dir(dir))
	index := filepath.Join(dir, "index.html")

	return func(w http.ResponseWriter, r *http.Request) {
		rel := strings.TrimPrefix(filepath.Clean("/"+r.URL.Path), "/")
		if rel != "" {
			if info, err := os.Stat(filepath.Join(dir, rel)); err == nil && !info.IsDir() {
				fileServer.ServeHTTP(w, r)
				return
			}
		}
		http.ServeFile(w, r, index)
	}
}
