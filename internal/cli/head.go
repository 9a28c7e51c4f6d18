package cli

import (
	"context"

	flag "github.com/spf13/pflag"
)

// HeadCmd returns the head command.
func HeadCmd(a *app) *Command {
	flags := flag.NewFlagSet("head", flag.ContinueOnError)
	count := flags.IntP("bytes", "n", 512, "Number of `bytes` to print")

	return &Command{
		Flags: flags,
		Usage: "head [-n N] [path]",
		Short: "Print the first N bytes",
		Long: `Print the first N bytes of path (or stdin).

Prints fewer only if the input ends first.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execHead(o, a, *count, args)
		},
	}
}

func execHead(o *IO, a *app, count int, args []string) error {
	if len(args) > 1 {
		return errTooManyArgs
	}

	path := "-"
	if len(args) == 1 {
		path = args[0]
	}

	data, err := a.readSource(path, count)
	if err != nil {
		return err
	}

	_, err = o.Write(data)

	return err
}
