package htmlstream

import (
	"iter"
	"strings"

	"golang.org/x/net/html"

	"github.com/strongdm/fragstream/internal/fragment"
)

// IsWhitespace reports whether n is a text node with nothing but
// whitespace in it.
func IsWhitespace(n *html.Node) bool {
	return n != nil && n.Type == html.TextNode && strings.TrimSpace(n.Data) == ""
}

// SkipWhitespace drops whitespace-only text fragments from seq. Order is
// kept, and stopping the returned sequence stops seq.
func SkipWhitespace(seq iter.Seq2[*fragment.Fragment, error]) iter.Seq2[*fragment.Fragment, error] {
	return func(yield func(*fragment.Fragment, error) bool) {
		for f, err := range seq {
			if err == nil && f != nil && IsWhitespace(f.Node()) {
				continue
			}
			if !yield(f, err) {
				return
			}
		}
	}
}
