package pushpull

// canceledNow reports whether Cancel has been called.
func (a *Adapter[T]) canceledNow() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.canceled
}

// buffered returns the number of queued results not yet pulled.
func (a *Adapter[T]) buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}
