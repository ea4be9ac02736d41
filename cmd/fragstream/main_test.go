package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/strongdm/fragstream/internal/version"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func fragmentServer(t *testing.T, moduleHits *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, "<li>1</li>\n<li>2</li>")
	})
	mux.HandleFunc("/widget", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<x-w><template shadowrootmode="open"><b>s</b></template></x-w><script type="module" src="/w.js"></script>`)
	})
	mux.HandleFunc("/inline", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<div><script>alert(1)</script></div>`)
	})
	mux.HandleFunc("/w.js", func(w http.ResponseWriter, r *http.Request) {
		moduleHits.Add(1)
		w.Header().Set("Content-Type", "text/javascript")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestVersionCommand(t *testing.T) {
	out, _, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if out != "fragstream "+version.Version+"\n" {
		t.Fatalf("out=%q", out)
	}
}

func TestFetchCommand_Streams(t *testing.T) {
	var hits atomic.Int64
	srv := fragmentServer(t, &hits)

	out, _, err := run(t, "fetch", srv.URL+"/list")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if out != "<li>1</li>\n<li>2</li>\n" {
		t.Fatalf("out=%q", out)
	}

	out, _, err = run(t, "fetch", "--keep-whitespace", srv.URL+"/list")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := strings.Count(out, "\n"); got != 4 {
		t.Fatalf("want 3 fragments with whitespace kept, out=%q", out)
	}
}

func TestFetchCommand_Whole(t *testing.T) {
	var hits atomic.Int64
	srv := fragmentServer(t, &hits)
	out, _, err := run(t, "fetch", "--whole", srv.URL+"/list")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if out != "<li>1</li>\n<li>2</li>\n" {
		t.Fatalf("out=%q", out)
	}
}

func TestFetchCommand_ShadowRootsAndModules(t *testing.T) {
	var hits atomic.Int64
	srv := fragmentServer(t, &hits)
	out, _, err := run(t, "fetch", "--preload", srv.URL+"/widget")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(out, `<x-w><template shadowrootmode="open"><b>s</b></template></x-w>`) {
		t.Fatalf("shadow root not round-tripped: %q", out)
	}
	// Preloaded once, then the attached script reuses the same load.
	if hits.Load() != 1 {
		t.Fatalf("module fetched %d times", hits.Load())
	}
}

func TestFetchCommand_Errors(t *testing.T) {
	var hits atomic.Int64
	srv := fragmentServer(t, &hits)

	_, _, err := run(t, "fetch", srv.URL+"/nope")
	if err == nil || exitCode(err) != exitTransport {
		t.Fatalf("err=%v code=%d", err, exitCode(err))
	}

	_, _, err = run(t, "fetch", "--preload", srv.URL+"/inline")
	if err == nil || exitCode(err) != exitContract {
		t.Fatalf("err=%v code=%d", err, exitCode(err))
	}

	_, _, err = run(t, "--log-level", "chatty", "version")
	if err == nil || exitCode(err) != exitFailure {
		t.Fatalf("err=%v", err)
	}
}

func TestParseCommand(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "items.html")
	if err := os.WriteFile(p, []byte("<p>a</p> <p>b</p><!--c-->"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, _, err := run(t, "parse", "--chunk-size", "3", p)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out != "<p>a</p>\n<p>b</p>\n<!--c-->\n" {
		t.Fatalf("out=%q", out)
	}

	latin := filepath.Join(dir, "latin.frag")
	if err := os.WriteFile(latin, []byte("<p>\xe9</p>"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, _, err = run(t, "parse", "--content-type", "text/html; charset=iso-8859-1", latin)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out != "<p>é</p>\n" {
		t.Fatalf("out=%q", out)
	}

	if _, _, err := run(t, "parse", filepath.Join(dir, "missing.html")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestServeCommand_RequiresConfig(t *testing.T) {
	if _, _, err := run(t, "serve"); err == nil {
		t.Fatalf("expected error without --config")
	}
	bad := filepath.Join(t.TempDir(), "serve.yaml")
	if err := os.WriteFile(bad, []byte("addr: :0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := run(t, "serve", "--config", bad); err == nil {
		t.Fatalf("expected error for config without root")
	}
}
