package api

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

// DirEntry is one subdirectory in a directory listing.
type DirEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// GetDirs handles GET /api/dirs?path= — the working-directory picker
// behind session and schedule creation. Defaults to the home directory;
// hidden directories are skipped.
func (h *Handlers) GetDirs(c *gin.Context) {
	path := c.Query("path")
	home, _ := os.UserHomeDir()

	switch {
	case path == "":
		path = home
	case path == "~":
		path = home
	case strings.HasPrefix(path, "~/"):
		path = filepath.Join(home, path[2:])
	}
	path = filepath.Clean(path)

	entries, err := os.ReadDir(path)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read directory"})
		return
	}

	dirs := make([]DirEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dirs = append(dirs, DirEntry{
			Name: entry.Name(),
			Path: filepath.Join(path, entry.Name()),
		})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })

	c.JSON(http.StatusOK, gin.H{
		"path":   path,
		"parent": filepath.Dir(path),
		"dirs":   dirs,
	})
}
