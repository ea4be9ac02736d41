// Package htmlstream parses markup responses into fragments.
//
// NewStream is the streaming path: it reads a body incrementally and yields
// each top-level node as soon as it is completely parsed, without waiting
// for the rest of the body. ParseResponse is the whole-response path: it
// parses a complete body in one pass into a single fragment.
package htmlstream

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/net/html"

	"github.com/strongdm/fragstream/internal/fragment"
	"github.com/strongdm/fragstream/internal/ids"
	"github.com/strongdm/fragstream/internal/pushpull"
	"github.com/strongdm/fragstream/internal/textstream"
)

type Option func(*config)

type config struct {
	contentType    string
	chunkSize      int
	newParser      ParserFactory
	keepWhitespace bool
	closer         io.Closer
	log            *slog.Logger
}

// WithContentType sets the declared content type. Its charset parameter
// selects the text decoding; without one the body is read as UTF-8.
func WithContentType(ct string) Option {
	return func(c *config) { c.contentType = ct }
}

// WithChunkSize sets the read size for the body.
func WithChunkSize(n int) Option {
	return func(c *config) { c.chunkSize = n }
}

// WithParser replaces the incremental parser.
func WithParser(f ParserFactory) Option {
	return func(c *config) {
		if f != nil {
			c.newParser = f
		}
	}
}

// WithWhitespace controls whether whitespace-only text nodes are yielded.
// They are dropped by default.
func WithWhitespace(keep bool) Option {
	return func(c *config) { c.keepWhitespace = keep }
}

// WithCloser hands the stream ownership of the body's closer. It is closed
// once the stream finishes, fails, or is canceled. Without it the stream
// never closes the body.
func WithCloser(cl io.Closer) Option {
	return func(c *config) { c.closer = cl }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

type item struct {
	node *html.Node
	err  error
}

// Stream is a single-pass sequence of completely parsed top-level nodes.
// It is not restartable. Next must not be called concurrently.
type Stream struct {
	id        string
	adapter   *pushpull.Adapter[item]
	keepWS    bool
	closer    io.Closer
	closeOnce sync.Once
	log       *slog.Logger
	delivered atomic.Int64
}

// NewStream starts parsing body in the background and returns the pull
// side. ctx bounds the background work; canceling it stops feeding the
// parser like Cancel does.
func NewStream(ctx context.Context, body io.Reader, opts ...Option) *Stream {
	cfg := config{
		chunkSize: textstream.DefaultChunkSize,
		newParser: NewTokenizerParser,
		log:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	id, err := ids.New()
	if err != nil {
		cfg.log.Warn("stream id unavailable", "error", err)
	}
	s := &Stream{
		id:     id,
		keepWS: cfg.keepWhitespace,
		closer: cfg.closer,
		log:    cfg.log.With("stream_id", id),
	}

	enc, err := textstream.EncodingFor(cfg.contentType)
	if err != nil {
		s.log.Warn("falling back to utf-8", "content_type", cfg.contentType, "error", err)
	}
	text := textstream.Text(textstream.ReadChunks(body, cfg.chunkSize), textstream.NewDecoder(enc))

	s.adapter = pushpull.New(func(emit func(pushpull.Result[item])) func() {
		var canceled atomic.Bool
		go func() {
			s.log.Debug("stream started", "content_type", cfg.contentType)
			err := detect(ctx, text, cfg.newParser, &canceled, func(n *html.Node) {
				emit(pushpull.Result[item]{Value: item{node: n}})
			})
			if err != nil && !canceled.Load() {
				s.log.Warn("stream failed", "error", err)
				emit(pushpull.Result[item]{Value: item{err: err}})
			}
			emit(pushpull.Result[item]{Done: true})
			s.log.Debug("stream finished", "canceled", canceled.Load())
		}()
		return func() { canceled.Store(true) }
	})
	return s
}

// ID identifies the stream in log records.
func (s *Stream) ID() string { return s.id }

// Next returns the next complete top-level node. ok is false once the
// stream is finished or canceled. A parse or read error is returned once,
// after which the stream is finished. If ctx ends while waiting, Next
// returns ctx.Err() and the stream remains usable.
func (s *Stream) Next(ctx context.Context) (*fragment.Fragment, bool, error) {
	for {
		f, ok, err := s.next(ctx)
		if err != nil || !ok {
			return nil, false, err
		}
		if !s.keepWS && IsWhitespace(f.Node()) {
			continue
		}
		return f, true, nil
	}
}

func (s *Stream) next(ctx context.Context) (*fragment.Fragment, bool, error) {
	r, err := s.adapter.Next(ctx)
	if err != nil {
		return nil, false, err
	}
	if r.Done {
		s.release()
		return nil, false, nil
	}
	if r.Value.err != nil {
		s.release()
		return nil, false, r.Value.err
	}
	s.delivered.Add(1)
	return fragment.Wrap(r.Value.node), true, nil
}

// Cancel stops the stream. No further nodes are produced; nodes already
// queued are still returned by Next, after which Next reports done.
func (s *Stream) Cancel() {
	s.log.Debug("stream canceled", "delivered", s.delivered.Load())
	s.adapter.Cancel()
	s.release()
}

// All yields fragments until the stream ends, applying the whitespace
// setting. Leaving the loop early cancels the stream.
func (s *Stream) All(ctx context.Context) iter.Seq2[*fragment.Fragment, error] {
	all := func(yield func(*fragment.Fragment, error) bool) {
		for {
			f, ok, err := s.next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				return
			}
			if !yield(f, nil) {
				s.Cancel()
				return
			}
		}
	}
	if s.keepWS {
		return all
	}
	return SkipWhitespace(all)
}

func (s *Stream) release() {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			if err := s.closer.Close(); err != nil {
				s.log.Debug("close body", "error", err)
			}
		}
	})
}
