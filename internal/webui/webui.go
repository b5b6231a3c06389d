package webui

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNoIndex is returned when the UI directory has no index.html.
var ErrNoIndex = errors.New("webui: index.html not found")

const (
	indexFile    = "index.html"
	assetsPrefix = "/assets/"

	cacheRevalidate = "no-cache, must-revalidate"
	cacheImmutable  = "public, max-age=31536000, immutable"
)

// Handler returns an http.Handler serving the web app in dir.
//
// Parameters:
//   - dir: Directory holding the built app; must contain index.html
//
// Returns:
//   - http.Handler: File server with SPA fallback
//   - error: If dir is not a directory or has no index.html
func Handler(dir string) (http.Handler, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("webui: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("webui: %s is not a directory", dir)
	}
	if _, err := os.Stat(filepath.Join(dir, indexFile)); err != nil {
		return nil, ErrNoIndex
	}

	root := http.Dir(dir)
	fileServer := http.FileServer(root)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		upath := path.Clean("/" + r.URL.Path)

		if upath != "/" && !exists(root, upath) {
			// Missing hashed assets are real 404s; anything else is a client route.
			if strings.HasPrefix(upath, assetsPrefix) {
				http.NotFound(w, r)
				return
			}
			upath = "/"
		}

		if strings.HasPrefix(upath, assetsPrefix) {
			w.Header().Set("Cache-Control", cacheImmutable)
		} else {
			w.Header().Set("Cache-Control", cacheRevalidate)
		}

		r2 := r.Clone(r.Context())
		r2.URL.Path = upath
		fileServer.ServeHTTP(w, r2)
	}), nil
}

// exists reports whether name is a regular file in root.
func exists(root http.FileSystem, name string) bool {
	f, err := root.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	return err == nil && !info.IsDir()
}
