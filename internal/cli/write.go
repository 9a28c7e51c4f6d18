package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/calvinalkan/fdio/pkg/fdio"

	flag "github.com/spf13/pflag"
)

// WriteCmd returns the write command.
func WriteCmd(a *app) *Command {
	flags := flag.NewFlagSet("write", flag.ContinueOnError)
	appendFlag := flags.Bool("append", false, "Append instead of writing at offset 0")
	create := flags.Bool("create", false, "Create the file if it does not exist")
	truncate := flags.Bool("truncate", false, "Truncate the file before writing")
	syncFlag := flags.Bool("sync", false, "Flush to durable storage after writing")
	perm := flags.String("perm", "0644", "Creation `mode` (octal)")

	return &Command{
		Flags: flags,
		Usage: "write [flags] <path>",
		Short: "Write stdin to a file",
		Long:  "Read standard input to end of stream and write all of it to path.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			mode, err := strconv.ParseUint(*perm, 8, 32)
			if err != nil {
				return fmt.Errorf("%w: --perm %s", errInvalidNumber, *perm)
			}

			openFlag := os.O_WRONLY
			if *appendFlag {
				openFlag |= os.O_APPEND
			}

			if *create {
				openFlag |= os.O_CREATE
			}

			if *truncate {
				openFlag |= os.O_TRUNC
			}

			return execWrite(o, a, args, openFlag, os.FileMode(mode), *syncFlag)
		},
	}
}

func execWrite(o *IO, a *app, args []string, openFlag int, perm os.FileMode, sync bool) error {
	if len(args) == 0 {
		return errPathRequired
	}

	if len(args) > 1 {
		return errTooManyArgs
	}

	data, err := a.readStdin(fdio.ReadAll)
	if err != nil {
		return err
	}

	h, err := a.eng.OpenFile(a.resolve(args[0]), openFlag, perm)
	if err != nil {
		return err
	}
	defer h.Close()

	n, err := h.Write(data)
	if err != nil {
		return fmt.Errorf("wrote %d of %d bytes: %w", n, len(data), err)
	}

	if sync {
		err = h.Sync()
		if err != nil {
			return err
		}
	}

	o.Printf("wrote %d bytes to %s\n", n, args[0])

	return nil
}
