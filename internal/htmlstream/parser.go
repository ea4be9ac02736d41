package htmlstream

import (
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// IncrementalParser consumes markup text a chunk at a time and builds nodes
// under a root it was given at construction. Every node appended directly
// to the root is reported through the callback, in document order, as soon
// as it is appended; the parser never says when a node is finished.
type IncrementalParser interface {
	Write(chunk string) error
	Close() error
}

// ParserFactory builds an IncrementalParser that populates root and calls
// appended for each new child of root. appended may be called from a
// goroutine other than the caller of Write, but never concurrently with
// itself, and never after Close returns.
type ParserFactory func(root *html.Node, appended func(*html.Node)) IncrementalParser

// NewTokenizerParser is the default ParserFactory. It drives an
// html.Tokenizer on its own goroutine, fed through a pipe, and keeps an
// open element stack to place nodes. It does not implement the full HTML
// tree construction algorithm: misnested formatting elements and implied
// table structure are taken as written.
func NewTokenizerParser(root *html.Node, appended func(*html.Node)) IncrementalParser {
	pr, pw := io.Pipe()
	p := &tokenizerParser{pw: pw, done: make(chan struct{})}
	b := &treeBuilder{root: root, appended: appended, stack: []*html.Node{root}}
	go func() {
		defer close(p.done)
		p.err = b.run(html.NewTokenizer(pr))
		pr.CloseWithError(p.err)
	}()
	return p
}

type tokenizerParser struct {
	pw   *io.PipeWriter
	done chan struct{}
	err  error
}

func (p *tokenizerParser) Write(chunk string) error {
	if chunk == "" {
		return nil
	}
	_, err := io.WriteString(p.pw, chunk)
	return err
}

// Close ends the input and waits for the tokenizer to drain it.
func (p *tokenizerParser) Close() error {
	_ = p.pw.Close()
	<-p.done
	return p.err
}

type treeBuilder struct {
	root     *html.Node
	appended func(*html.Node)
	stack    []*html.Node
}

func (b *treeBuilder) top() *html.Node {
	return b.stack[len(b.stack)-1]
}

func (b *treeBuilder) run(z *html.Tokenizer) error {
	for {
		z.AllowCDATA(b.top().Namespace != "")
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return err
			}
			return nil
		case html.TextToken:
			b.text(string(z.Text()))
		case html.StartTagToken, html.SelfClosingTagToken:
			b.startTag(z, tt == html.SelfClosingTagToken)
		case html.EndTagToken:
			name, _ := z.TagName()
			b.endTag(string(name))
		case html.CommentToken:
			b.append(&html.Node{Type: html.CommentNode, Data: string(z.Text())})
		case html.DoctypeToken:
			// Fragments have no doctype.
		}
	}
}

func (b *treeBuilder) append(n *html.Node) {
	parent := b.top()
	parent.AppendChild(n)
	if parent == b.root {
		b.appended(n)
	}
}

// text merges into a trailing text node where possible so that a run of
// character data is a single node, as a browser would build it.
func (b *treeBuilder) text(s string) {
	if s == "" {
		return
	}
	parent := b.top()
	if last := parent.LastChild; last != nil && last.Type == html.TextNode {
		last.Data += s
		return
	}
	b.append(&html.Node{Type: html.TextNode, Data: s})
}

func (b *treeBuilder) startTag(z *html.Tokenizer, selfClosing bool) {
	name, hasAttr := z.TagName()
	n := &html.Node{Type: html.ElementNode, Data: string(name)}
	n.DataAtom = atom.Lookup(name)
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		n.Attr = append(n.Attr, html.Attribute{Key: string(key), Val: string(val)})
	}

	parent := b.top()
	switch {
	case n.DataAtom == atom.Svg:
		n.Namespace = "svg"
	case n.DataAtom == atom.Math:
		n.Namespace = "math"
	case parent.Namespace != "" && !htmlIntegrationPoint(parent):
		n.Namespace = parent.Namespace
	}
	if n.Namespace == "svg" {
		// The tokenizer lower-cases names; SVG has mixed-case ones.
		if adj, ok := svgTagNames[n.Data]; ok {
			n.Data = adj
			n.DataAtom = atom.Lookup([]byte(adj))
		}
		for i := range n.Attr {
			if adj, ok := svgAttrNames[n.Attr[i].Key]; ok {
				n.Attr[i].Key = adj
			}
		}
	}

	if n.Namespace == "" {
		b.closeImplied(n.DataAtom)
	}
	b.append(n)

	if n.Namespace != "" {
		// Raw text elements like <title> and <style> hold markup in SVG.
		z.NextIsNotRawText()
		if !selfClosing {
			b.stack = append(b.stack, n)
		}
		return
	}
	if !voidElements[n.DataAtom] {
		b.stack = append(b.stack, n)
	}
}

func (b *treeBuilder) endTag(name string) {
	a := atom.Lookup([]byte(name))
	if a != 0 && voidElements[a] {
		return
	}
	for i := len(b.stack) - 1; i > 0; i-- {
		if strings.EqualFold(b.stack[i].Data, name) {
			b.stack = b.stack[:i]
			return
		}
	}
	// Unmatched end tag: ignored.
}

// closeImplied pops elements whose end tag is implied by the start of an
// element of kind a: a new <li> closes an open <li>, a block closes an open
// <p>, and so on.
func (b *treeBuilder) closeImplied(a atom.Atom) {
	switch a {
	case atom.Li:
		b.popTo(atom.Li, atom.Ul, atom.Ol)
	case atom.Dt, atom.Dd:
		if !b.popTo(atom.Dt, atom.Dl) {
			b.popTo(atom.Dd, atom.Dl)
		}
	case atom.Option:
		b.popTo(atom.Option, atom.Select, atom.Datalist, atom.Optgroup)
	case atom.Optgroup:
		b.popTo(atom.Option, atom.Select)
		b.popTo(atom.Optgroup, atom.Select)
	case atom.Tr:
		b.popTo(atom.Tr, atom.Table, atom.Tbody, atom.Thead, atom.Tfoot)
	case atom.Td, atom.Th:
		if !b.popTo(atom.Td, atom.Tr, atom.Table) {
			b.popTo(atom.Th, atom.Tr, atom.Table)
		}
	}
	if closesP[a] {
		b.popTo(atom.P, atom.Button, atom.Table, atom.Template)
	}
}

// popTo pops the stack up to and including the nearest target element,
// unless a boundary element (or the root) is reached first.
func (b *treeBuilder) popTo(target atom.Atom, boundary ...atom.Atom) bool {
	for i := len(b.stack) - 1; i > 0; i-- {
		n := b.stack[i]
		if n.Namespace == "" && n.DataAtom == target {
			b.stack = b.stack[:i]
			return true
		}
		if n.Namespace != "" {
			return false
		}
		for _, s := range boundary {
			if n.DataAtom == s {
				return false
			}
		}
	}
	return false
}

var voidElements = map[atom.Atom]bool{
	atom.Area: true, atom.Base: true, atom.Br: true, atom.Col: true,
	atom.Embed: true, atom.Hr: true, atom.Img: true, atom.Input: true,
	atom.Link: true, atom.Meta: true, atom.Param: true, atom.Source: true,
	atom.Track: true, atom.Wbr: true, atom.Keygen: true,
}

var closesP = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Details: true, atom.Dialog: true, atom.Div: true, atom.Dl: true,
	atom.Fieldset: true, atom.Figcaption: true, atom.Figure: true, atom.Footer: true,
	atom.Form: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Header: true, atom.Hgroup: true, atom.Hr: true,
	atom.Main: true, atom.Menu: true, atom.Nav: true, atom.Ol: true, atom.P: true,
	atom.Pre: true, atom.Section: true, atom.Table: true, atom.Ul: true,
}

func htmlIntegrationPoint(n *html.Node) bool {
	if n.Namespace != "svg" {
		return false
	}
	switch n.Data {
	case "foreignObject", "desc", "title":
		return true
	}
	return false
}

var svgTagNames = map[string]string{
	"clippath":         "clipPath",
	"foreignobject":    "foreignObject",
	"lineargradient":   "linearGradient",
	"radialgradient":   "radialGradient",
	"textpath":         "textPath",
	"fegaussianblur":   "feGaussianBlur",
	"feoffset":         "feOffset",
	"feblend":          "feBlend",
	"fecolormatrix":    "feColorMatrix",
	"animatetransform": "animateTransform",
}

var svgAttrNames = map[string]string{
	"viewbox":             "viewBox",
	"preserveaspectratio": "preserveAspectRatio",
	"gradientunits":       "gradientUnits",
	"gradienttransform":   "gradientTransform",
	"patternunits":        "patternUnits",
	"clippathunits":       "clipPathUnits",
	"stddeviation":        "stdDeviation",
}
