package dom

import (
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Script describes an executable declaration (<script> element).
type Script struct {
	Node *html.Node
	Type string
	Src  string
	Text string
}

// ScriptOf reads the script described by n. It reports false if n is not a
// <script> element.
func ScriptOf(n *html.Node) (Script, bool) {
	if n == nil || n.Type != html.ElementNode || n.DataAtom != atom.Script {
		return Script{}, false
	}
	s := Script{Node: n}
	for _, a := range n.Attr {
		if a.Namespace != "" {
			continue
		}
		switch a.Key {
		case "type":
			s.Type = strings.ToLower(strings.TrimSpace(a.Val))
		case "src":
			s.Src = strings.TrimSpace(a.Val)
		}
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	s.Text = b.String()
	return s, true
}

// IsModule reports whether the script is module-typed.
func (s Script) IsModule() bool { return s.Type == "module" }

// IsExternal reports whether the script names an external resource.
func (s Script) IsExternal() bool { return s.Src != "" }

// Executor runs a live script once it is connected.
type Executor interface {
	Execute(ctx context.Context, doc *Document, s Script) error
}

type ExecutorFunc func(ctx context.Context, doc *Document, s Script) error

func (f ExecutorFunc) Execute(ctx context.Context, doc *Document, s Script) error {
	return f(ctx, doc, s)
}

// defaultExecutor loads external module scripts and ignores everything
// else; there is no script engine here.
type defaultExecutor struct{}

func (defaultExecutor) Execute(ctx context.Context, doc *Document, s Script) error {
	if s.IsModule() && s.IsExternal() {
		return doc.LoadModule(ctx, s.Src)
	}
	return nil
}
