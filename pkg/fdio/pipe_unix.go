//go:build unix && !linux

package fdio

import "golang.org/x/sys/unix"

// pipeCloexec falls back to pipe(2) followed by FD_CLOEXEC. The two steps are
// not atomic with respect to a concurrent fork+exec.
func pipeCloexec() (int, int, error) {
	var fds [2]int

	err := unix.Pipe(fds[:])
	if err != nil {
		return -1, -1, err
	}

	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])

	return fds[0], fds[1], nil
}
