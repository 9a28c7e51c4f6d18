package fdio

import (
	"fmt"
	"math"
	"runtime"
)

// readBuffer is the growable buffer behind a single read operation.
//
// len(buf) is the number of bytes filled, cap(buf) the allocated capacity.
// limit caps the capacity; zero means unlimited.
type readBuffer struct {
	buf     []byte
	initial int
	limit   int
}

func newReadBuffer(initial, limit int) *readBuffer {
	return &readBuffer{initial: initial, limit: limit}
}

// allocExact allocates exactly n bytes of capacity. Used by the regular-file
// path where the size is known up front.
func (b *readBuffer) allocExact(n int) error {
	buf, err := allocate(n, b.limit)
	if err != nil {
		return err
	}

	b.buf = buf[:0]

	return nil
}

// reserve makes sure at least n bytes of free space follow the filled region.
// The first call allocates the initial capacity; later calls double it,
// preserving the filled bytes.
func (b *readBuffer) reserve(n int) error {
	if cap(b.buf)-len(b.buf) >= n {
		return nil
	}

	newCap := cap(b.buf)
	if newCap == 0 {
		newCap = max(b.initial, n)
	}

	for newCap-len(b.buf) < n {
		if newCap > math.MaxInt/2 {
			newCap = math.MaxInt

			break
		}

		newCap *= 2
	}

	if b.limit > 0 && newCap > b.limit {
		newCap = b.limit
	}

	if newCap-len(b.buf) < n {
		return fmt.Errorf("need %d bytes, limit %d", len(b.buf)+n, b.limit)
	}

	grown, err := allocate(newCap, b.limit)
	if err != nil {
		return err
	}

	b.buf = append(grown[:0], b.buf...)

	return nil
}

// free returns the unfilled tail of the allocation.
func (b *readBuffer) free() []byte {
	return b.buf[len(b.buf):cap(b.buf)]
}

func (b *readBuffer) advance(n int) {
	b.buf = b.buf[:len(b.buf)+n]
}

func (b *readBuffer) filled() int {
	return len(b.buf)
}

func (b *readBuffer) capacity() int {
	return cap(b.buf)
}

// shrinkToFit moves the filled bytes into an allocation of exactly their size
// so an oversized growth step is not retained by the caller.
func (b *readBuffer) shrinkToFit() {
	if cap(b.buf) == len(b.buf) {
		return
	}

	exact := make([]byte, len(b.buf))
	copy(exact, b.buf)
	b.buf = exact
}

// bytes hands the filled region to the caller. Capacity is clipped so the
// unfilled tail cannot be reached by reslicing.
func (b *readBuffer) bytes() []byte {
	n := len(b.buf)

	return b.buf[:n:n]
}

func (b *readBuffer) release() {
	b.buf = nil
}

// allocate returns a zero-length slice with capacity n. Sizes above limit, and
// sizes the runtime refuses, are reported as errors instead of panics.
func allocate(n, limit int) (buf []byte, err error) {
	if n < 0 {
		return nil, fmt.Errorf("negative size %d", n)
	}

	if limit > 0 && n > limit {
		return nil, fmt.Errorf("size %d exceeds limit %d", n, limit)
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		rerr, ok := r.(runtime.Error)
		if !ok {
			panic(r)
		}

		buf = nil
		err = rerr
	}()

	return make([]byte, 0, n), nil
}
