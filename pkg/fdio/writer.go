package fdio

import (
	"errors"
	"io"
	"runtime"

	"golang.org/x/sys/unix"
)

// Write writes all of p.
//
// Short writes are continued until p is exhausted. Any failure is returned as
// an error wrapping [ErrIO] together with the number of bytes written before
// it, which makes Handle an [io.Writer].
func (h *Handle) Write(p []byte) (int, error) {
	defer runtime.KeepAlive(h)

	fd, err := h.desc.value()
	if err != nil {
		return 0, h.closedError("write")
	}

	return h.writeAll(fd, p)
}

// WriteBuffers writes each span in order, each in full, and returns the total
// number of bytes written.
func (h *Handle) WriteBuffers(spans [][]byte) (int64, error) {
	defer runtime.KeepAlive(h)

	fd, err := h.desc.value()
	if err != nil {
		return 0, h.closedError("write")
	}

	var total int64

	for _, span := range spans {
		n, err := h.writeAll(fd, span)
		total += int64(n)

		if err != nil {
			return total, err
		}
	}

	return total, nil
}

func (h *Handle) writeAll(fd int, p []byte) (int, error) {
	written := 0

	for written < len(p) {
		n, err := h.sys.Write(fd, p[written:])
		if n > 0 {
			written += n
		}

		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}

			return written, h.opError("write", fd, ErrIO, err)
		}

		if n <= 0 {
			return written, h.opError("write", fd, ErrIO, io.ErrShortWrite)
		}
	}

	return written, nil
}
