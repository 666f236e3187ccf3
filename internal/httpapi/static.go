package httpapi

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gijiroku/internal/model"
)

// staticHandler serves the built frontend with an index.html fallback for
// client-side routes. Without a build it answers / with a JSON banner.
func (s *server) staticHandler(dir string) http.HandlerFunc {
	index := filepath.Join(dir, "index.html")
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			s.writeError(w, r, http.StatusNotFound, "not_found", "route not found", nil)
			return
		}
		if dir == "" || !isFile(index) {
			if r.URL.Path == "/" {
				writeJSON(w, http.StatusOK, model.BannerResponse{
					Message: "gijiroku API is running. Build the frontend to serve the UI.",
				})
				return
			}
			s.writeError(w, r, http.StatusNotFound, "not_found", "route not found", nil)
			return
		}

		rel := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if rel != "" {
			candidate := filepath.Join(dir, filepath.FromSlash(rel))
			if isFile(candidate) {
				http.ServeFile(w, r, candidate)
				return
			}
		}
		http.ServeFile(w, r, index)
	}
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
