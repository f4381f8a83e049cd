package middleware

import (
	"net/http"
	"os"
	"path/filepath"
)

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200"><rect width="200" height="200" fill="#f0f0f0"/><path d="M48 118l8-26c2-6 8-10 14-10h60c6 0 12 4 14 10l8 26v28a6 6 0 0 1-6 6h-8a6 6 0 0 1-6-6v-6H72v6a6 6 0 0 1-6 6h-8a6 6 0 0 1-6-6v-28zm18-8h68l-6-20H72l-6 20zm4 22a8 8 0 1 0 0-16 8 8 0 0 0 0 16zm60 0a8 8 0 1 0 0-16 8 8 0 0 0 0 16z" fill="#999"/><text x="100" y="178" text-anchor="middle" font-family="Arial" font-size="14" fill="#666">NO PHOTO</text></svg>`

func StaticFileServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean(r.URL.Path))

		if _, err := os.Stat(path); err == nil {
			w.Header().Set("Cache-Control", "public, max-age=2592000")
			http.ServeFile(w, r, path)
			return
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(placeholderSVG))
	})
}
