// Package textstream turns a body of byte chunks into a sequence of decoded
// text chunks. Decoding is stateful: a multi-byte character whose bytes are
// split across chunks is carried over and emitted whole.
package textstream

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"mime"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultChunkSize is the read size used when a caller does not pick one.
const DefaultChunkSize = 32 * 1024

const replacementChar = "�"

// ErrUnknownCharset is returned by EncodingFor when the charset label of a
// content type is not a known encoding.
var ErrUnknownCharset = errors.New("unknown charset")

// Decoder decodes byte chunks into text. It is not safe for concurrent use.
type Decoder struct {
	t     transform.Transformer
	carry []byte
	buf   []byte
}

// NewDecoder returns a decoder for enc. A nil enc means UTF-8.
func NewDecoder(enc encoding.Encoding) *Decoder {
	if enc == nil {
		enc = unicode.UTF8
	}
	return &Decoder{t: enc.NewDecoder()}
}

// Decode decodes chunk, holding back a trailing incomplete sequence until
// the next call. Malformed bytes become U+FFFD.
func (d *Decoder) Decode(chunk []byte) string {
	return d.decode(chunk, false)
}

// Flush ends the input. Any bytes still carried are decoded as-is, so a
// dangling partial sequence becomes U+FFFD. The decoder is reset and may be
// reused.
func (d *Decoder) Flush() string {
	return d.decode(nil, true)
}

func (d *Decoder) decode(chunk []byte, atEOF bool) string {
	src := chunk
	if len(d.carry) > 0 {
		src = append(d.carry, chunk...)
		d.carry = nil
	}
	if len(src) == 0 && !atEOF {
		return ""
	}
	if d.buf == nil {
		d.buf = make([]byte, 4096)
	}

	var out strings.Builder
	for {
		nDst, nSrc, err := d.t.Transform(d.buf, src, atEOF)
		out.Write(d.buf[:nDst])
		src = src[nSrc:]
		switch {
		case err == nil:
			if atEOF {
				d.t.Reset()
			}
			return out.String()
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				d.buf = make([]byte, 2*len(d.buf))
			}
		case errors.Is(err, transform.ErrShortSrc):
			d.carry = append([]byte(nil), src...)
			return out.String()
		default:
			// Substitute and skip one byte; the stream must stay live.
			out.WriteString(replacementChar)
			if len(src) == 0 {
				return out.String()
			}
			src = src[1:]
		}
	}
}

// ReadChunks yields successive reads from r as independent byte chunks.
// Each yielded slice is freshly allocated and owned by the receiver. A
// non-EOF read error is yielded once and ends the sequence.
func ReadChunks(r io.Reader, size int) iter.Seq2[[]byte, error] {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return func(yield func([]byte, error) bool) {
		for {
			buf := make([]byte, size)
			n, err := r.Read(buf)
			if n > 0 {
				if !yield(buf[:n], nil) {
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(nil, err)
				}
				return
			}
		}
	}
}

// Text decodes chunks with dec. Chunks that decode to nothing (for example
// a lone lead byte) are not yielded; the final flush is.
func Text(chunks iter.Seq2[[]byte, error], dec *Decoder) iter.Seq2[string, error] {
	if dec == nil {
		dec = NewDecoder(nil)
	}
	return func(yield func(string, error) bool) {
		for b, err := range chunks {
			if err != nil {
				yield("", err)
				return
			}
			if s := dec.Decode(b); s != "" {
				if !yield(s, nil) {
					return
				}
			}
		}
		if tail := dec.Flush(); tail != "" {
			yield(tail, nil)
		}
	}
}

// EncodingFor returns the encoding named by the charset parameter of
// contentType. Without a charset (or without a content type at all) it
// returns UTF-8.
func EncodingFor(contentType string) (encoding.Encoding, error) {
	if strings.TrimSpace(contentType) == "" {
		return unicode.UTF8, nil
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// A malformed parameter list still has a usable media type.
		return unicode.UTF8, nil
	}
	label := strings.TrimSpace(params["charset"])
	if label == "" {
		return unicode.UTF8, nil
	}
	enc, _ := charset.Lookup(label)
	if enc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCharset, label)
	}
	return enc, nil
}
