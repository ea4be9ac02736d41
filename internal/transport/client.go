// Package transport issues fragment requests over HTTP and hands the
// responses to htmlstream.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/strongdm/fragstream/internal/dom"
	"github.com/strongdm/fragstream/internal/fragment"
	"github.com/strongdm/fragstream/internal/htmlstream"
	"github.com/strongdm/fragstream/internal/version"
)

const acceptMarkup = "text/html, application/xhtml+xml;q=0.9, image/svg+xml;q=0.8"

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Log     *slog.Logger
}

// New returns a client for baseURL. The HTTP client has no overall timeout;
// streamed responses stay open as long as the server writes, so bound
// requests with the context.
func New(baseURL string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{},
		Log:     slog.New(slog.DiscardHandler),
	}
}

// HTTPError is a request that reached the server but came back with a
// non-2xx status.
type HTTPError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "fragment http error"
	}
	msg := strings.TrimSpace(e.Body)
	if msg != "" {
		return fmt.Sprintf("%s %s: status=%d body=%s", e.Method, e.URL, e.Status, msg)
	}
	return fmt.Sprintf("%s %s: status=%d", e.Method, e.URL, e.Status)
}

// IsTransportFailure reports whether err is, or wraps, an *HTTPError.
func IsTransportFailure(err error) bool {
	var he *HTTPError
	return errors.As(err, &he)
}

// Stream requests path and streams the response body. Status is checked
// before any parsing. The returned stream owns the body and closes it when
// it finishes, fails, or is canceled.
func (c *Client) Stream(ctx context.Context, path string, opts ...htmlstream.Option) (*htmlstream.Stream, error) {
	resp, err := c.get(ctx, path, acceptMarkup)
	if err != nil {
		return nil, err
	}
	base := []htmlstream.Option{
		htmlstream.WithContentType(resp.Header.Get("Content-Type")),
		htmlstream.WithCloser(resp.Body),
		htmlstream.WithLogger(c.log()),
	}
	s := htmlstream.NewStream(ctx, resp.Body, append(base, opts...)...)
	c.log().Debug("streaming fragment", "url", resp.Request.URL.String(), "stream_id", s.ID())
	return s, nil
}

// Fetch requests path and parses the whole response into one fragment.
func (c *Client) Fetch(ctx context.Context, path string) (*fragment.Fragment, error) {
	resp, err := c.get(ctx, path, acceptMarkup)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	f, err := htmlstream.ParseHTTPResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", resp.Request.URL, err)
	}
	return f, nil
}

// ModuleLoader loads module scripts by fetching them relative to the base
// URL. The body is read and discarded; a load succeeds on any 2xx status.
func (c *Client) ModuleLoader() dom.ModuleLoader {
	return dom.ModuleLoaderFunc(func(ctx context.Context, src string) error {
		resp, err := c.get(ctx, src, "text/javascript, */*;q=0.1")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		n, err := io.Copy(io.Discard, resp.Body)
		if err != nil {
			return fmt.Errorf("load module %s: %w", src, err)
		}
		c.log().Debug("module loaded", "src", src, "bytes", n)
		return nil
	})
}

func (c *Client) get(ctx context.Context, path, accept string) (*http.Response, error) {
	if c == nil {
		return nil, fmt.Errorf("transport client is nil")
	}
	u, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{Method: req.Method, URL: u, Status: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}

// resolve joins path onto the base URL. Absolute URLs are used as given.
func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(path))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", path, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if c.BaseURL == "" {
		return "", fmt.Errorf("relative url %q with no base url", path)
	}
	base, err := url.Parse(c.BaseURL + "/")
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", c.BaseURL, err)
	}
	if strings.HasPrefix(ref.Path, "/") {
		// Root-relative paths stay under the base URL's own path.
		ref.Path = strings.TrimPrefix(ref.Path, "/")
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *Client) http() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) log() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.New(slog.DiscardHandler)
}
