package fdio

import "sync"

// descriptor is the single source of truth for a descriptor's lifetime.
//
// It is a separate allocation from [Handle] so a runtime cleanup attached to
// the Handle can reference it without keeping the Handle reachable.
type descriptor struct {
	sys  Sys
	fd   int
	owns bool

	mu     sync.Mutex
	closed bool
}

func newDescriptor(sys Sys, fd int, owns bool) *descriptor {
	return &descriptor{sys: sys, fd: fd, owns: owns}
}

// value returns the raw descriptor, or [ErrClosed] after close.
func (d *descriptor) value() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return -1, ErrClosed
	}

	return d.fd, nil
}

func (d *descriptor) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.closed
}

// close marks the descriptor closed and issues at most one OS close, only if
// the descriptor is owned. The OS result is returned for tracing but callers
// must not treat it as a failure: the descriptor is gone either way and close
// is never retried.
func (d *descriptor) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	d.closed = true

	if !d.owns {
		return nil
	}

	return d.sys.Close(d.fd)
}

// release is the cleanup run when an owning Handle becomes unreachable.
func (d *descriptor) release() {
	_ = d.close()
}
