// Package mime maps file extensions to content types.
package mime

import (
	stdmime "mime"
	"path/filepath"
	"strings"
)

const DefaultType = "application/octet-stream"

var types = map[string]string{
	".html":  "text/html; charset=utf-8",
	".htm":   "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "text/javascript; charset=utf-8",
	".mjs":   "text/javascript; charset=utf-8",
	".json":  "application/json",
	".txt":   "text/plain; charset=utf-8",
	".md":    "text/markdown; charset=utf-8",
	".csv":   "text/csv; charset=utf-8",
	".xml":   "application/xml",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".ico":   "image/x-icon",
	".pdf":   "application/pdf",
	".zip":   "application/zip",
	".gz":    "application/gzip",
	".tar":   "application/x-tar",
	".wasm":  "application/wasm",
	".mp3":   "audio/mpeg",
	".mp4":   "video/mp4",
	".woff":  "font/woff",
	".woff2": "font/woff2",
}

// TypeByPath returns the content type for path's extension, or DefaultType.
func TypeByPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return DefaultType
	}
	if t, ok := types[ext]; ok {
		return t
	}
	if t := stdmime.TypeByExtension(ext); t != "" {
		return t
	}
	return DefaultType
}
