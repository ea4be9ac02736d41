// Package fragment wraps parsed markup so it can be stamped into an active
// document any number of times.
//
// Markup parsed outside the active document comes out inert: <script>
// elements never run and <template shadowrootmode> placeholders stay plain
// templates. Clone repairs both so the copy behaves as if the active
// document had parsed it.
package fragment

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/strongdm/fragstream/internal/dom"
	"github.com/strongdm/fragstream/internal/weakset"
)

// rewritten holds every script Clone has produced, across all fragments.
// A script found in it is already live and is left in place.
var rewritten weakset.Set[html.Node]

// ContractViolation is returned by PreloadBehaviors when a script is not an
// external module.
type ContractViolation struct {
	Index  int
	Type   string
	Src    string
	Reason string
}

func (e *ContractViolation) Error() string {
	if e == nil {
		return "contract violation"
	}
	return fmt.Sprintf("contract violation: script %d (type=%q src=%q): %s", e.Index, e.Type, e.Src, e.Reason)
}

// Fragment is an immutable handle on one detached node.
type Fragment struct {
	node *html.Node
}

// Wrap returns a fragment for n. n must not be mutated afterwards.
func Wrap(n *html.Node) *Fragment {
	return &Fragment{node: n}
}

// Node returns the wrapped node. Callers must treat it as read-only.
func (f *Fragment) Node() *html.Node {
	return f.node
}

// Clone returns an independent copy of the wrapped node owned by doc. The
// copy is ready to attach: declarative shadow roots are attached to their
// hosts and scripts are replaced with live equivalents.
//
// If the copy contains custom elements whose properties will be set before
// attachment, call PreloadBehaviors first and wait for it.
func (f *Fragment) Clone(doc *dom.Document) *html.Node {
	if f == nil || f.node == nil {
		return nil
	}
	c := doc.ImportNode(f.node)
	carryRewritten(doc, f.node, c)
	attachShadowRoots(doc, c)
	reviveScripts(doc, c)
	return c
}

// carryRewritten walks src and its copy in lockstep so that copies of
// already rewritten scripts are recognized as such.
func carryRewritten(doc *dom.Document, src, dst *html.Node) {
	if rewritten.Has(src) {
		rewritten.Add(dst)
		doc.MarkLive(dst)
	}
	s, d := src.FirstChild, dst.FirstChild
	for s != nil && d != nil {
		carryRewritten(doc, s, d)
		s, d = s.NextSibling, d.NextSibling
	}
}

// attachShadowRoots turns every <template shadowrootmode> placeholder whose
// parent is an element into a real shadow root on that parent. Inner
// placeholders are handled before outer ones. A placeholder that cannot be
// attached stays an ordinary template.
func attachShadowRoots(doc *dom.Document, root *html.Node) {
	var placeholders []*html.Node
	walk(root, func(n *html.Node) {
		if _, ok := shadowMode(n); ok {
			placeholders = append(placeholders, n)
		}
	})
	for i := len(placeholders) - 1; i >= 0; i-- {
		tmpl := placeholders[i]
		host := tmpl.Parent
		if host == nil || host.Type != html.ElementNode {
			continue
		}
		mode, _ := shadowMode(tmpl)
		sr, err := doc.AttachShadow(host, mode)
		if err != nil {
			continue
		}
		host.RemoveChild(tmpl)
		for c := tmpl.FirstChild; c != nil; {
			next := c.NextSibling
			tmpl.RemoveChild(c)
			sr.Root.AppendChild(c)
			c = next
		}
	}
}

func shadowMode(n *html.Node) (string, bool) {
	if n.Type != html.ElementNode || n.DataAtom != atom.Template {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && (a.Key == "shadowrootmode" || a.Key == "shadowroot") {
			return strings.ToLower(strings.TrimSpace(a.Val)), true
		}
	}
	return "", false
}

// reviveScripts replaces each parser-made script under root, including
// inside attached shadow trees, with a document-made copy.
func reviveScripts(doc *dom.Document, root *html.Node) {
	var scripts []*html.Node
	doc.Walk(root, func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script && !rewritten.Has(n) {
			scripts = append(scripts, n)
		}
	})
	for _, old := range scripts {
		fresh := doc.CreateElement("script")
		fresh.Namespace = old.Namespace
		fresh.Attr = append([]html.Attribute(nil), old.Attr...)
		for c := old.FirstChild; c != nil; c = c.NextSibling {
			fresh.AppendChild(doc.ImportNode(c))
		}
		if p := old.Parent; p != nil {
			p.InsertBefore(fresh, old)
			p.RemoveChild(old)
		}
		rewritten.Add(fresh)
	}
}

// PreloadBehaviors loads every behavior module the fragment's scripts
// reference, and returns once all of them have loaded.
//
// Scripts inside shadow roots already attached in doc count too.
// Every script must be an external module (type="module" with a src). If
// any is not, a *ContractViolation is returned before anything is loaded.
// Call this before setting properties on a not-yet-upgraded custom element
// from the fragment, and before attaching it; otherwise the element's own
// initialization runs later and overwrites those properties.
func (f *Fragment) PreloadBehaviors(ctx context.Context, doc *dom.Document) error {
	if f == nil || f.node == nil {
		return nil
	}
	var srcs []string
	seen := map[string]bool{}
	var violation *ContractViolation
	i := 0
	doc.Walk(f.node, func(n *html.Node) {
		s, ok := dom.ScriptOf(n)
		if !ok || violation != nil {
			return
		}
		switch {
		case !s.IsExternal():
			violation = &ContractViolation{Index: i, Type: s.Type, Reason: "inline script"}
		case !s.IsModule():
			violation = &ContractViolation{Index: i, Type: s.Type, Src: s.Src, Reason: "not a module script"}
		case !seen[s.Src]:
			seen[s.Src] = true
			srcs = append(srcs, s.Src)
		}
		i++
	})
	if violation != nil {
		return violation
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range srcs {
		g.Go(func() error {
			return doc.LoadModule(gctx, src)
		})
	}
	return g.Wait()
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}
