package cli

import (
	"bytes"
	"context"
	"fmt"

	flag "github.com/spf13/pflag"
)

// PipeCheckCmd returns the pipe-check command.
func PipeCheckCmd(a *app) *Command {
	flags := flag.NewFlagSet("pipe-check", flag.ContinueOnError)
	size := flags.Int("bytes", 1<<20, "Number of `bytes` to send through the pipe")

	return &Command{
		Flags: flags,
		Usage: "pipe-check [flags]",
		Short: "Send bytes through a pipe and verify them",
		Long: `Create a pipe, write a pattern from one goroutine and read it to end
of stream from another. Fails if any byte differs or arrives out of order.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execPipeCheck(ctx, o, a, *size)
		},
	}
}

func execPipeCheck(ctx context.Context, o *IO, a *app, size int) error {
	if size < 0 {
		return fmt.Errorf("%w: --bytes %d", errInvalidNumber, size)
	}

	p, err := a.eng.NewPipe()
	if err != nil {
		return err
	}
	defer p.Close()

	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	writeErr := make(chan error, 1)

	go func() {
		_, err := p.Writer().Write(payload)
		_ = p.Writer().Close()
		writeErr <- err
	}()

	got, err := p.Reader().ReadToEnd()

	// A failed read leaves the writer blocked on a full pipe; closing the
	// read end makes its write fail with EPIPE.
	_ = p.Reader().Close()

	werr := <-writeErr

	if err != nil {
		return err
	}

	if werr != nil {
		return werr
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if !bytes.Equal(got, payload) {
		return fmt.Errorf("%w: sent %d, received %d", errPipeMismatch, len(payload), len(got))
	}

	o.Printf("pipe ok: %d bytes\n", len(got))

	return nil
}
