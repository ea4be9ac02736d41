// Package server serves fragment files from disk as slowly streamed HTTP
// responses, for exercising streaming clients.
package server

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/strongdm/fragstream/internal/ids"
)

const defaultContentType = "text/html; charset=utf-8"

type Option func(*Server)

// WithFS serves files from fsys instead of the configured root directory.
func WithFS(fsys fs.FS) Option {
	return func(s *Server) { s.fsys = fsys }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

type Server struct {
	cfg  Config
	fsys fs.FS
	log  *slog.Logger
}

// New returns a server for cfg. cfg is expected to have passed
// ParseConfig; New applies defaults again for configs built in code.
func New(cfg Config, opts ...Option) *Server {
	applyConfigDefaults(&cfg)
	s := &Server{cfg: cfg, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(s)
	}
	if s.fsys == nil {
		s.fsys = os.DirFS(cfg.Root)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serve)
}

// ListenAndServe serves until ctx is done, then shuts down, giving open
// streams a few seconds to finish.
func (s *Server) ListenAndServe(ctx context.Context) error {
	hs := &http.Server{Addr: s.cfg.Addr, Handler: s.Handler()}
	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()
	s.log.Info("serving fragments", "addr", s.cfg.Addr, "routes", len(s.cfg.Routes))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := hs.Shutdown(shutdownCtx)
	if lerr := <-errc; lerr != nil && !errors.Is(lerr, http.ErrServerClosed) {
		return lerr
	}
	return err
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := s.log.With("method", r.Method, "path", r.URL.Path)
	if id, err := ids.New(); err != nil {
		log.Warn("request id unavailable", "error", err)
	} else {
		w.Header().Set("X-Request-Id", id)
		log = log.With("request_id", id)
	}

	status, n := s.respond(w, r)
	log.Info("request", "status", status, "bytes", n, "duration_ms", time.Since(start).Milliseconds())
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request) (int, int) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return http.StatusMethodNotAllowed, 0
	}
	route, ok := s.match(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return http.StatusNotFound, 0
	}
	name, b, err := s.load(route, r.URL.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return http.StatusNotFound, 0
		}
		s.log.Warn("read fragment", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return http.StatusInternalServerError, 0
	}

	w.Header().Set("Content-Type", contentTypeFor(route, name))
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no") // nginx proxy compatibility
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return http.StatusOK, 0
	}
	return http.StatusOK, s.writeChunked(w, r, b)
}

// match returns the first route whose pattern matches p.
func (s *Server) match(p string) (Route, bool) {
	for _, rt := range s.cfg.Routes {
		if ok, err := doublestar.Match(rt.Pattern, p); err == nil && ok {
			return rt, true
		}
	}
	return Route{}, false
}

func (s *Server) load(rt Route, reqPath string) (string, []byte, error) {
	name := rt.File
	if name == "" {
		name = reqPath
	}
	name = path.Clean("/" + name)[1:]
	if name == "" {
		name = "."
	}
	if !fs.ValidPath(name) {
		return "", nil, fs.ErrNotExist
	}
	if st, err := fs.Stat(s.fsys, name); err == nil && st.IsDir() {
		name = path.Join(name, "index.html")
	}
	b, err := fs.ReadFile(s.fsys, name)
	return name, b, err
}

func contentTypeFor(rt Route, name string) string {
	if ct := strings.TrimSpace(rt.ContentType); ct != "" {
		return ct
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return defaultContentType
}

// writeChunked writes b in chunks of the configured size, flushing each one
// and pausing between them. It stops when the client goes away.
func (s *Server) writeChunked(w http.ResponseWriter, r *http.Request, b []byte) int {
	flusher, _ := w.(http.Flusher)
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	ctx := r.Context()
	size := s.cfg.ChunkSize
	delay := s.cfg.ChunkDelay()
	written := 0
	for len(b) > 0 {
		n := min(size, len(b))
		m, err := w.Write(b[:n])
		written += m
		if err != nil {
			return written
		}
		if flusher != nil {
			flusher.Flush()
		}
		b = b[n:]
		if len(b) == 0 || delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return written
		case <-t.C:
		}
	}
	return written
}
