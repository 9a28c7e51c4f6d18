package cli

import (
	"context"
	"fmt"
	"strconv"

	flag "github.com/spf13/pflag"
)

// TruncateCmd returns the truncate command.
func TruncateCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("truncate", flag.ContinueOnError),
		Usage: "truncate <path> <size>",
		Short: "Shrink a file to size bytes",
		Long: `Seek to size and truncate the file there.

Files are never grown: if size is beyond the end of file nothing changes and
a warning is printed.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execTruncate(o, a, args)
		},
	}
}

func execTruncate(o *IO, a *app, args []string) error {
	if len(args) == 0 {
		return errPathRequired
	}

	if len(args) == 1 {
		return errSizeRequired
	}

	if len(args) > 2 {
		return errTooManyArgs
	}

	size, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || size < 0 {
		return fmt.Errorf("%w: %s", errInvalidNumber, args[1])
	}

	h, err := a.eng.OpenForUpdating(a.resolve(args[0]))
	if err != nil {
		return err
	}
	defer h.Close()

	truncated, err := h.TruncateAt(size)
	if err != nil {
		return err
	}

	if !truncated {
		o.Warn(fmt.Sprintf("%s not truncated", args[0]), fmt.Sprintf("size %d is beyond end of file", size))

		return nil
	}

	o.Printf("truncated %s to %d bytes\n", args[0], size)

	return nil
}
