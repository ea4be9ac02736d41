package dom

import "context"

// ModuleLoader fetches and evaluates a behavior module by URL.
type ModuleLoader interface {
	Load(ctx context.Context, src string) error
}

type ModuleLoaderFunc func(ctx context.Context, src string) error

func (f ModuleLoaderFunc) Load(ctx context.Context, src string) error { return f(ctx, src) }

type nopLoader struct{}

func (nopLoader) Load(context.Context, string) error { return nil }

type moduleLoad struct {
	done chan struct{}
	err  error
}

// LoadModule loads src at most once per document. Concurrent callers for
// the same src share one load. A failed load is remembered and returned to
// later callers as well.
//
// The shared load runs detached from any one caller's cancellation, so ctx
// only bounds how long this caller waits. A caller giving up never turns
// into a remembered failure for the others.
func (d *Document) LoadModule(ctx context.Context, src string) error {
	d.mu.Lock()
	m, ok := d.modules[src]
	if !ok {
		m = &moduleLoad{done: make(chan struct{})}
		d.modules[src] = m
		go d.load(context.WithoutCancel(ctx), src, m)
	}
	d.mu.Unlock()

	select {
	case <-m.done:
		return m.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Document) load(ctx context.Context, src string, m *moduleLoad) {
	d.log.Debug("load module", "src", src)
	m.err = d.loader.Load(ctx, src)
	if m.err != nil {
		d.log.Warn("module load failed", "src", src, "error", m.err)
	}
	close(m.done)
}

// ModuleLoaded reports whether src finished loading without error.
func (d *Document) ModuleLoaded(src string) bool {
	d.mu.Lock()
	m, ok := d.modules[src]
	d.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-m.done:
		return m.err == nil
	default:
		return false
	}
}
