package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/calvinalkan/fdio/pkg/fdio"
	"github.com/natefinch/atomic"

	flag "github.com/spf13/pflag"
)

// SlurpCmd returns the slurp command.
func SlurpCmd(a *app) *Command {
	flags := flag.NewFlagSet("slurp", flag.ContinueOnError)
	perm := flags.String("perm", "0644", "`mode` of the destination (octal)")

	return &Command{
		Flags: flags,
		Usage: "slurp [flags] <src> <dst>",
		Short: "Copy any readable source to a file atomically",
		Long: `Read src to end of stream and replace dst with its content atomically.

src may be a regular file, a FIFO, a character device or "-" for stdin.
Readers of dst see either the old or the new content, never a mix.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			mode, err := strconv.ParseUint(*perm, 8, 32)
			if err != nil {
				return fmt.Errorf("%w: --perm %s", errInvalidNumber, *perm)
			}

			return execSlurp(o, a, args, os.FileMode(mode))
		},
	}
}

func execSlurp(o *IO, a *app, args []string, perm os.FileMode) error {
	if len(args) < 2 {
		return errPathRequired
	}

	if len(args) > 2 {
		return errTooManyArgs
	}

	src, dst := args[0], a.resolve(args[1])

	data, err := a.readSource(src, fdio.ReadAll)
	if err != nil {
		return err
	}

	err = atomic.WriteFile(dst, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", args[1], err)
	}

	// atomic.WriteFile doesn't set permissions for new files
	err = os.Chmod(dst, perm)
	if err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}

	o.Printf("slurped %d bytes from %s to %s\n", len(data), src, args[1])

	return nil
}
