package htmlstream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/transform"

	"github.com/strongdm/fragstream/internal/fragment"
	"github.com/strongdm/fragstream/internal/textstream"
)

// ErrMissingContentType is returned by the whole-response parser when the
// response declares no content type.
var ErrMissingContentType = errors.New("missing content type")

// UnsupportedContentTypeError is returned for a media type the
// whole-response parser has no mode for.
type UnsupportedContentTypeError struct {
	MediaType string
}

func (e *UnsupportedContentTypeError) Error() string {
	return fmt.Sprintf("unsupported content type: %q", e.MediaType)
}

// MediaType returns the primary token of contentType, lower-cased, with
// any parameters removed.
func MediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// ParseHTTPResponse parses the whole body of resp. The caller still owns
// resp.Body and must close it.
func ParseHTTPResponse(resp *http.Response) (*fragment.Fragment, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}
	return ParseResponse(resp.Body, resp.Header.Get("Content-Type"))
}

// ParseResponse parses a complete body in one pass and returns a fragment
// whose node is a DocumentNode holding every top-level node, whitespace
// text included. Shadow roots and scripts are left as parsed; Clone fixes
// them up.
func ParseResponse(body io.Reader, contentType string) (*fragment.Fragment, error) {
	if strings.TrimSpace(contentType) == "" {
		return nil, ErrMissingContentType
	}
	enc, err := textstream.EncodingFor(contentType)
	if err != nil {
		return nil, err
	}
	r := transform.NewReader(body, enc.NewDecoder())

	var context *html.Node
	switch mt := MediaType(contentType); mt {
	case "text/html", "application/xhtml+xml":
		context = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	case "image/svg+xml":
		context = &html.Node{Type: html.ElementNode, Data: "svg", DataAtom: atom.Svg, Namespace: "svg"}
	default:
		return nil, &UnsupportedContentTypeError{MediaType: mt}
	}

	nodes, err := html.ParseFragment(r, context)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", MediaType(contentType), err)
	}
	container := &html.Node{Type: html.DocumentNode}
	for _, n := range nodes {
		container.AppendChild(n)
	}
	return fragment.Wrap(container), nil
}
