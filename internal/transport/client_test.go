package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/strongdm/fragstream/internal/dom"
	"github.com/strongdm/fragstream/internal/fragment"
	"github.com/strongdm/fragstream/internal/htmlstream"
)

func render(t *testing.T, n *html.Node) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, html.Render(&b, n))
	return b.String()
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/app/items", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept"), "text/html") || !strings.HasPrefix(r.UserAgent(), "fragstream/") {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fl := w.(http.Flusher)
		for i := 1; i <= 3; i++ {
			_, _ = fmt.Fprintf(w, "<li>%d</li>\n", i)
			fl.Flush()
		}
	})
	mux.HandleFunc("/app/untyped", func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = io.WriteString(w, "<p>x</p>")
	})
	mux.HandleFunc("/app/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such fragment", http.StatusNotFound)
	})
	mux.HandleFunc("/app/el.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript")
		_, _ = io.WriteString(w, "customElements.define('x-el', class extends HTMLElement {})")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_StreamYieldsNodes(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL + "/app/")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	s, err := c.Stream(ctx, "items")
	require.NoError(t, err)
	var got []string
	for f, err := range s.All(ctx) {
		require.NoError(t, err)
		got = append(got, render(t, f.Node()))
	}
	assert.Equal(t, []string{"<li>1</li>", "<li>2</li>", "<li>3</li>"}, got)
}

func TestClient_StreamPassesOptions(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL + "/app")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	s, err := c.Stream(ctx, "/items", htmlstream.WithWhitespace(true))
	require.NoError(t, err)
	var n int
	for _, err := range s.All(ctx) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 6, n)
}

func TestClient_NonSuccessIsTransportFailure(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL + "/app")
	ctx := context.Background()

	s, err := c.Stream(ctx, "missing")
	assert.Nil(t, s)
	require.True(t, IsTransportFailure(err), "err=%v", err)

	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusNotFound, he.Status)
	assert.Equal(t, http.MethodGet, he.Method)
	assert.Equal(t, srv.URL+"/app/missing", he.URL)
	assert.Contains(t, he.Error(), "no such fragment")

	_, err = c.Fetch(ctx, "missing")
	assert.True(t, IsTransportFailure(err))

	assert.False(t, IsTransportFailure(errors.New("other")))
	assert.False(t, IsTransportFailure(nil))
}

func TestClient_FetchWholeResponse(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL + "/app")
	f, err := c.Fetch(context.Background(), "items")
	require.NoError(t, err)
	assert.Equal(t, "<li>1</li>\n<li>2</li>\n<li>3</li>\n", render(t, f.Node()))
}

func TestClient_FetchMissingContentType(t *testing.T) {
	srv := newServer(t)
	_, err := New(srv.URL+"/app").Fetch(context.Background(), "untyped")
	assert.ErrorIs(t, err, htmlstream.ErrMissingContentType)
	assert.False(t, IsTransportFailure(err))
}

func TestClient_ModuleLoader(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL + "/app")
	loader := c.ModuleLoader()
	ctx := context.Background()

	require.NoError(t, loader.Load(ctx, "el.js"))
	require.NoError(t, loader.Load(ctx, srv.URL+"/app/el.js"))
	assert.True(t, IsTransportFailure(loader.Load(ctx, "missing")))
}

func TestClient_PreloadThroughDocument(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Path == "/frag" {
			_, _ = io.WriteString(w, `<div><script type="module" src="/m/a.js"></script><script type="module" src="/m/a.js"></script></div>`)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	f, err := c.Fetch(context.Background(), "/frag")
	require.NoError(t, err)

	doc := dom.NewDocument(dom.WithModuleLoader(c.ModuleLoader()))
	div := f.Node().FirstChild
	require.NoError(t, fragment.Wrap(div).PreloadBehaviors(context.Background(), doc))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, hits["/m/a.js"])
}

func TestClient_CancelClosesBody(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fl := w.(http.Flusher)
		_, _ = io.WriteString(w, "<b>1</b><b>2</b><b>3</b>")
		fl.Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s, err := New(srv.URL).Stream(ctx, "/")
	require.NoError(t, err)

	for _, want := range []string{"<b>1</b>", "<b>2</b>"} {
		f, ok, err := s.Next(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, render(t, f.Node()))
	}
	s.Cancel()
	_, ok, err := s.Next(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_Resolve(t *testing.T) {
	c := New("http://h.test/base/")
	cases := map[string]string{
		"frag":              "http://h.test/base/frag",
		"/frag":             "http://h.test/base/frag",
		"a/b?x=1":           "http://h.test/base/a/b?x=1",
		"http://o.test/z":   "http://o.test/z",
		"https://o.test/z/": "https://o.test/z/",
	}
	for in, want := range cases {
		got, err := c.resolve(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := (&Client{}).resolve("frag")
	assert.Error(t, err)

	var nilClient *Client
	_, err = nilClient.Fetch(context.Background(), "x")
	assert.Error(t, err)
}
