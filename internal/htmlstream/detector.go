package htmlstream

import (
	"context"
	"iter"
	"sync/atomic"

	"golang.org/x/net/html"
)

// detect feeds text into a fresh parse target and calls complete for every
// top-level node once it is known to be fully parsed.
//
// The parser only reports that a node appeared. A node is known to be
// complete once its next sibling appears, or once the input ends, so the
// most recent node is held back until one of those happens. When canceled
// is set, feeding stops, nothing more is reported, and the held node is
// dropped.
func detect(ctx context.Context, text iter.Seq2[string, error], newParser ParserFactory, canceled *atomic.Bool, complete func(*html.Node)) error {
	root := &html.Node{Type: html.DocumentNode}
	var pending *html.Node
	p := newParser(root, func(n *html.Node) {
		if canceled.Load() {
			return
		}
		if pending != nil {
			complete(pending)
		}
		pending = n
	})

	for chunk, err := range text {
		if err != nil {
			_ = p.Close()
			return err
		}
		if canceled.Load() {
			break
		}
		if err := ctx.Err(); err != nil {
			canceled.Store(true)
			break
		}
		if err := p.Write(chunk); err != nil {
			_ = p.Close()
			return err
		}
	}

	closeErr := p.Close()
	if canceled.Load() {
		return nil
	}
	if closeErr != nil {
		return closeErr
	}
	if pending != nil {
		complete(pending)
	}
	return nil
}
