package server

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"

	"github.com/agentdeck/agentdeck/log"
)

// assetCache serves the static frontend from memory. In production files
// are read once and cached until restart; in dev mode an fsnotify watcher
// drops the cache whenever anything under the web directory changes.
type assetCache struct {
	dir string
	dev bool

	mu    sync.RWMutex
	files map[string][]byte

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func newAssetCache(dir string, dev bool) *assetCache {
	return &assetCache{
		dir:   dir,
		dev:   dev,
		files: make(map[string][]byte),
		done:  make(chan struct{}),
	}
}

// start begins watching the web directory in dev mode. Production mode
// needs no watcher.
func (a *assetCache) start() {
	if !a.dev {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("asset watcher unavailable, hot reload disabled")
		return
	}
	a.watcher = watcher

	filepath.WalkDir(a.dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			watcher.Add(path)
		}
		return nil
	})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				a.invalidate()
				// New directories need their own watch.
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						watcher.Add(event.Name)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Debug().Err(err).Msg("asset watcher error")
			case <-a.done:
				return
			}
		}
	}()

	log.Info().Str("dir", a.dir).Msg("asset hot reload enabled")
}

func (a *assetCache) stop() {
	close(a.done)
	if a.watcher != nil {
		a.watcher.Close()
	}
}

func (a *assetCache) invalidate() {
	a.mu.Lock()
	a.files = make(map[string][]byte)
	a.mu.Unlock()
}

// load returns one asset, reading through the cache.
func (a *assetCache) load(rel string) ([]byte, error) {
	a.mu.RLock()
	data, ok := a.files[rel]
	a.mu.RUnlock()
	if ok {
		return data, nil
	}

	clean := filepath.Clean("/" + rel)
	data, err := os.ReadFile(filepath.Join(a.dir, clean))
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.files[rel] = data
	a.mu.Unlock()
	return data, nil
}

func (a *assetCache) serve(c *gin.Context, rel string) {
	data, err := a.load(rel)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(rel))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	c.Data(http.StatusOK, contentType, data)
}

// register wires the static routes: hashed assets, the favicon, and the
// SPA fallback for everything that is not an API route.
func (a *assetCache) register(r *gin.Engine) {
	r.GET("/assets/*filepath", func(c *gin.Context) {
		c.Header("Cache-Control", "public, max-age=31536000, immutable")
		a.serve(c, "assets/"+strings.TrimPrefix(c.Param("filepath"), "/"))
	})
	r.GET("/favicon.ico", func(c *gin.Context) {
		a.serve(c, "favicon.ico")
	})

	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") ||
			strings.HasPrefix(c.Request.URL.Path, "/preview/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
		a.serve(c, "index.html")
	})
}
