//go:build linux

package fdio

import "golang.org/x/sys/unix"

func pipeCloexec() (int, int, error) {
	var fds [2]int

	err := unix.Pipe2(fds[:], unix.O_CLOEXEC)
	if err != nil {
		return -1, -1, err
	}

	return fds[0], fds[1], nil
}
