// Package dom is a small model of the active rendering document that
// fragments are stamped into.
//
// Nodes are plain *html.Node values. The document adds what the markup
// parser cannot express on its own: shadow roots attached to hosts, the
// distinction between parser-made (inert) and document-made (live)
// elements, and connect-time execution of live scripts.
package dom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/strongdm/fragstream/internal/weakset"
)

var (
	ErrNotElement        = errors.New("dom: node is not an element")
	ErrInvalidShadowMode = errors.New("dom: invalid shadow root mode")
	ErrShadowExists      = errors.New("dom: host already has a shadow root")
	ErrHasParent         = errors.New("dom: node already has a parent")
)

const (
	ShadowOpen   = "open"
	ShadowClosed = "closed"
)

// ShadowRoot is a shadow tree attached to Host. Root is a DocumentNode whose
// children are the shadow tree's top-level nodes.
type ShadowRoot struct {
	Host *html.Node
	Mode string
	Root *html.Node
}

type Option func(*Document)

// WithModuleLoader sets the loader used by LoadModule.
func WithModuleLoader(l ModuleLoader) Option {
	return func(d *Document) {
		d.loader = l
	}
}

// WithExecutor sets how live scripts run when they are connected.
func WithExecutor(e Executor) Option {
	return func(d *Document) {
		d.exec = e
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Document) {
		if l != nil {
			d.log = l
		}
	}
}

// Document is the active document. It is safe for concurrent use, but the
// trees it hands out are not: callers serialize their own mutations.
type Document struct {
	root   *html.Node
	body   *html.Node
	loader ModuleLoader
	exec   Executor
	log    *slog.Logger

	mu      sync.Mutex
	shadows map[*html.Node]*ShadowRoot
	roots   map[*html.Node]*ShadowRoot
	modules map[string]*moduleLoad

	live weakset.Set[html.Node]
	ran  weakset.Set[html.Node]
}

// NewDocument returns an empty connected document: <html><head></head><body></body></html>.
func NewDocument(opts ...Option) *Document {
	d := &Document{
		root:    &html.Node{Type: html.DocumentNode},
		loader:  nopLoader{},
		exec:    defaultExecutor{},
		log:     slog.New(slog.DiscardHandler),
		shadows: map[*html.Node]*ShadowRoot{},
		roots:   map[*html.Node]*ShadowRoot{},
		modules: map[string]*moduleLoad{},
	}
	for _, opt := range opts {
		opt(d)
	}
	htmlEl := &html.Node{Type: html.ElementNode, Data: "html", DataAtom: atom.Html}
	head := &html.Node{Type: html.ElementNode, Data: "head", DataAtom: atom.Head}
	d.body = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	htmlEl.AppendChild(head)
	htmlEl.AppendChild(d.body)
	d.root.AppendChild(htmlEl)
	return d
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the <body> element.
func (d *Document) Body() *html.Node { return d.body }

// CreateElement returns a new live element. Live scripts execute when they
// are connected; parser-made scripts never do.
func (d *Document) CreateElement(tag string) *html.Node {
	tag = strings.ToLower(tag)
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	d.live.Add(n)
	return n
}

// IsLive reports whether n was made by this document rather than a parser.
func (d *Document) IsLive(n *html.Node) bool {
	return d.live.Has(n)
}

// MarkLive marks an existing node as document-made.
func (d *Document) MarkLive(n *html.Node) {
	d.live.Add(n)
}

// ImportNode deep-copies n for use in this document. Copies of live nodes
// are live. Shadow roots are not copied.
func (d *Document) ImportNode(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	if d.live.Has(n) {
		d.live.Add(c)
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(d.ImportNode(ch))
	}
	return c
}

// AttachShadow attaches an empty shadow tree to host.
func (d *Document) AttachShadow(host *html.Node, mode string) (*ShadowRoot, error) {
	if host == nil || host.Type != html.ElementNode {
		return nil, ErrNotElement
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode != ShadowOpen && mode != ShadowClosed {
		return nil, fmt.Errorf("%w: %q", ErrInvalidShadowMode, mode)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.shadows[host]; ok {
		return nil, ErrShadowExists
	}
	sr := &ShadowRoot{Host: host, Mode: mode, Root: &html.Node{Type: html.DocumentNode}}
	d.shadows[host] = sr
	d.roots[sr.Root] = sr
	return sr, nil
}

// ShadowRoot returns the shadow tree attached to host, or nil.
func (d *Document) ShadowRoot(host *html.Node) *ShadowRoot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shadows[host]
}

func (d *Document) shadowOf(root *html.Node) *ShadowRoot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.roots[root]
}

// IsConnected reports whether n is in the document, either directly or
// inside a shadow tree whose host is connected.
func (d *Document) IsConnected(n *html.Node) bool {
	for n != nil {
		if n == d.root {
			return true
		}
		if n.Parent == nil {
			sr := d.shadowOf(n)
			if sr == nil {
				return false
			}
			n = sr.Host
			continue
		}
		n = n.Parent
	}
	return false
}

// Walk calls fn for n and every descendant in tree order. A host's shadow
// tree is visited before its light children.
func (d *Document) Walk(n *html.Node, fn func(*html.Node)) {
	if n == nil {
		return
	}
	fn(n)
	if n.Type == html.ElementNode {
		if sr := d.ShadowRoot(n); sr != nil {
			for c := sr.Root.FirstChild; c != nil; c = c.NextSibling {
				d.Walk(c, fn)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.Walk(c, fn)
	}
}

// AppendChild appends child to parent. A DocumentNode child is treated as a
// fragment: its children are moved and it is left empty. When parent is
// connected, live scripts in the inserted nodes that have not run yet are
// executed in tree order. Execution errors are joined and returned; the
// insertion itself is not undone.
func (d *Document) AppendChild(ctx context.Context, parent, child *html.Node) error {
	if parent == nil || child == nil {
		return errors.New("dom: nil node")
	}
	var inserted []*html.Node
	if child.Type == html.DocumentNode {
		for c := child.FirstChild; c != nil; {
			next := c.NextSibling
			child.RemoveChild(c)
			parent.AppendChild(c)
			inserted = append(inserted, c)
			c = next
		}
	} else {
		if child.Parent != nil {
			return ErrHasParent
		}
		parent.AppendChild(child)
		inserted = append(inserted, child)
	}
	if !d.IsConnected(parent) {
		return nil
	}
	var errs []error
	for _, n := range inserted {
		if err := d.runScripts(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Document) runScripts(ctx context.Context, n *html.Node) error {
	var scripts []*html.Node
	d.Walk(n, func(c *html.Node) {
		if c.Type == html.ElementNode && c.DataAtom == atom.Script && d.live.Has(c) {
			scripts = append(scripts, c)
		}
	})
	var errs []error
	for _, s := range scripts {
		if !d.ran.Add(s) {
			continue
		}
		sc, _ := ScriptOf(s)
		d.log.Debug("execute script", "type", sc.Type, "src", sc.Src, "inline", sc.Src == "")
		if err := d.exec.Execute(ctx, d, sc); err != nil {
			errs = append(errs, fmt.Errorf("script %q: %w", sc.Src, err))
		}
	}
	return errors.Join(errs...)
}

// Executed reports whether the live script n has run.
func (d *Document) Executed(n *html.Node) bool {
	return d.ran.Has(n)
}

// Render writes n as markup. Shadow trees are written back out as
// declarative <template shadowrootmode> placeholders.
func (d *Document) Render(w io.Writer, n *html.Node) error {
	return html.Render(w, d.serializable(n))
}

func (d *Document) serializable(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	if n.Type == html.ElementNode {
		if sr := d.ShadowRoot(n); sr != nil {
			tmpl := &html.Node{
				Type:     html.ElementNode,
				Data:     "template",
				DataAtom: atom.Template,
				Attr:     []html.Attribute{{Key: "shadowrootmode", Val: sr.Mode}},
			}
			for ch := sr.Root.FirstChild; ch != nil; ch = ch.NextSibling {
				tmpl.AppendChild(d.serializable(ch))
			}
			c.AppendChild(tmpl)
		}
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(d.serializable(ch))
	}
	return c
}
