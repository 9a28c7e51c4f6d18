// Package fdio provides blocking I/O on raw Unix file descriptors.
//
// The main types are:
//   - [Handle]: one open descriptor with an ownership flag and idempotent close
//   - [Pipe]: a connected read/write pair created by a single pipe call
//   - [Engine]: binds a [Sys] and [Options]; package-level functions use a
//     default engine over [Real]
//   - [Sys]: the syscall layer; [Real] passes through to golang.org/x/sys/unix
//     and [Chaos] injects faults for testing
//
// Reads adapt to the descriptor's target. Regular files are read with a buffer
// sized to the bytes remaining before end of file. Pipes, sockets, FIFOs and
// character devices have no size, so the buffer starts at [Options.ChunkSize]
// and doubles as data arrives.
//
// Example usage:
//
//	h, err := fdio.OpenForReading("config.json")
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	data, err := h.ReadToEnd()
//
// Handles are not safe for concurrent reads and writes: the descriptor offset
// is shared state. Only [Handle.Close] is synchronized.
package fdio
