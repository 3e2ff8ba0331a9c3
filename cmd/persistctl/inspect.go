package main

import (
	"fmt"
	"io"
	"os"

	"github.com/ao-apps/ao-persistence/buffer"

	flag "github.com/spf13/pflag"
)

func runInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 20, "maximum number of elements to print")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, "inspect:", err)
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: persistctl inspect [--limit=N] <path>")
		return 2
	}
	path := fs.Arg(0)

	l, closeFn, err := openList(path, buffer.Barrier, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, "inspect:", err)
		return 1
	}
	defer closeFn()

	fmt.Printf("%s: size=%d\n", path, l.Size())
	it := l.Iterator()
	for i := int64(0); it.HasNext() && i < int64(*limit); i++ {
		v, ok, err := it.Next()
		if err != nil {
			fmt.Fprintln(os.Stderr, "inspect:", err)
			return 1
		}
		if !ok {
			fmt.Printf("  [%d] <null>\n", i)
			continue
		}
		fmt.Printf("  [%d] %d\n", i, v)
	}
	return 0
}
