// Package static serves regular files and directory listings from below the
// server root.
package static

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/zeebo/xxh3"
	"golang.org/x/net/html"

	"github.com/Brownie44l1/cgiserve/internal/headers"
	"github.com/Brownie44l1/cgiserve/internal/logger"
	"github.com/Brownie44l1/cgiserve/internal/mime"
	"github.com/Brownie44l1/cgiserve/internal/resolve"
	"github.com/Brownie44l1/cgiserve/internal/response"
)

// Options configures a Server.
type Options struct {
	// CacheMaxBytes bounds the in-memory file cache. Zero disables it.
	CacheMaxBytes int64
	Logger        logger.Logger
}

// Server builds responses for static content.
type Server struct {
	cache  *ristretto.Cache
	logger logger.Logger
}

// cachedFile is a file body valid for as long as size and modTime match.
type cachedFile struct {
	size    int64
	modTime time.Time
	body    []byte
	etag    string
}

func NewServer(opts Options) (*Server, error) {
	s := &Server{logger: opts.Logger}
	if s.logger == nil {
		s.logger = &logger.NullLogger{}
	}

	if opts.CacheMaxBytes > 0 {
		c, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: max(opts.CacheMaxBytes/1024, 1000) * 10,
			MaxCost:     opts.CacheMaxBytes,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("static cache: %w", err)
		}
		s.cache = c
	}
	return s, nil
}

// Close releases the cache.
func (s *Server) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

// Serve returns the file or directory listing at rp.
func (s *Server) Serve(rp resolve.ResolvedPath) (*response.Response, error) {
	info, err := os.Stat(rp.Path)
	if err != nil {
		return nil, fsError(err)
	}

	if info.IsDir() {
		return s.listDirectory(rp)
	}
	if !info.Mode().IsRegular() {
		return nil, resolve.ErrForbidden
	}

	f, err := s.readFile(rp.Path, info)
	if err != nil {
		return nil, err
	}

	h := headers.NewHeaders()
	h.Set("Content-Type", mime.TypeByPath(rp.Path))
	h.Set("Content-Length", fmt.Sprintf("%d", len(f.body)))
	h.Set("ETag", f.etag)
	return response.New(response.StatusOK, h, f.body), nil
}

func (s *Server) readFile(p string, info fs.FileInfo) (*cachedFile, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(p); ok {
			if f := v.(*cachedFile); f.size == info.Size() && f.modTime.Equal(info.ModTime()) {
				return f, nil
			}
		}
	}

	body, err := os.ReadFile(p)
	if err != nil {
		// The file may have changed since Stat; that is not fatal.
		s.logger.Debug("static read failed", logger.F("path", p), logger.F("error", err))
		return nil, fsError(err)
	}

	f := &cachedFile{
		size:    info.Size(),
		modTime: info.ModTime(),
		body:    body,
		etag:    ETag(body),
	}
	if s.cache != nil && int64(len(body)) == info.Size() {
		s.cache.Set(p, f, int64(len(body))+1)
	}
	return f, nil
}

// ETag is the strong validator for body.
func ETag(body []byte) string {
	return fmt.Sprintf(`"%016x"`, xxh3.Hash(body))
}

func (s *Server) listDirectory(rp resolve.ResolvedPath) (*response.Response, error) {
	entries, err := os.ReadDir(rp.Path)
	if err != nil {
		return nil, fsError(err)
	}

	var b strings.Builder
	b.WriteString("<html><h1>Directory listing</h1><ul>")
	fmt.Fprintf(&b, `<li><a href="%s">..</a></li>`, html.EscapeString(href(parentOf(rp.Rel))))
	for _, e := range entries {
		fmt.Fprintf(&b, `<li><a href="%s">%s</a></li>`,
			html.EscapeString(href(path.Join(rp.Rel, e.Name()))),
			html.EscapeString(e.Name()))
	}
	b.WriteString("</ul></html>")

	return response.HTML(response.StatusOK, b.String()), nil
}

func parentOf(rel string) string {
	if rel == "" {
		return ""
	}
	parent := path.Dir(rel)
	if parent == "." {
		return ""
	}
	return parent
}

// href builds a root-relative link with each segment escaped.
func href(rel string) string {
	if rel == "" {
		return "/"
	}
	segs := strings.Split(rel, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return "/" + strings.Join(segs, "/")
}

func fsError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return resolve.ErrNotFound
	}
	return fmt.Errorf("%w: %v", resolve.ErrForbidden, err)
}
