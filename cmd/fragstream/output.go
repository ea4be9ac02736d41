package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/html"

	"github.com/strongdm/fragstream/internal/dom"
	"github.com/strongdm/fragstream/internal/fragment"
	"github.com/strongdm/fragstream/internal/transport"
)

const (
	exitFailure   = 1
	exitTransport = 2
	exitContract  = 3
)

func exitCode(err error) int {
	var cv *fragment.ContractViolation
	switch {
	case transport.IsTransportFailure(err):
		return exitTransport
	case errors.As(err, &cv):
		return exitContract
	default:
		return exitFailure
	}
}

// emitter attaches each fragment to a document and prints it, one
// fragment per line.
type emitter struct {
	doc     *dom.Document
	out     io.Writer
	preload bool
	n       int
}

func (e *emitter) emit(ctx context.Context, f *fragment.Fragment) error {
	if e.preload {
		if err := f.PreloadBehaviors(ctx, e.doc); err != nil {
			return fmt.Errorf("fragment %d: %w", e.n, err)
		}
	}
	c := f.Clone(e.doc)
	// A whole-response fragment is a container; its children are what lands
	// in the body.
	nodes := []*html.Node{c}
	if c.Type == html.DocumentNode {
		nodes = nodes[:0]
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			nodes = append(nodes, k)
		}
	}
	if err := e.doc.AppendChild(ctx, e.doc.Body(), c); err != nil {
		return fmt.Errorf("fragment %d: %w", e.n, err)
	}
	for _, n := range nodes {
		if err := e.doc.Render(e.out, n); err != nil {
			return err
		}
	}
	e.n++
	_, err := fmt.Fprintln(e.out)
	return err
}
