package fdio

// Pipe is a connected pair of handles: bytes written to [Pipe.Writer] are read
// from [Pipe.Reader] in write order.
//
// The ends share no state after creation. Each follows the usual close rules,
// so closing the writer makes the reader observe end of stream once the
// buffered bytes are drained.
type Pipe struct {
	r *Handle
	w *Handle
}

// Reader returns the read end.
func (p *Pipe) Reader() *Handle {
	return p.r
}

// Writer returns the write end.
func (p *Pipe) Writer() *Handle {
	return p.w
}

// Close closes both ends. Like [Handle.Close] it is idempotent and always
// returns nil.
func (p *Pipe) Close() error {
	_ = p.w.Close()
	_ = p.r.Close()

	return nil
}
