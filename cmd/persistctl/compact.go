package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/ao-apps/ao-persistence/buffer"
	"github.com/ao-apps/ao-persistence/tempfile"

	flag "github.com/spf13/pflag"
)

// runCompact reads every (possibly-null) element of the list at path
// and writes a flat, densely-packed snapshot to --out: a 4-byte count
// followed by, for each element, a 1-byte null flag and (if non-null)
// an 8-byte big-endian value. Written via tempfile.WriteFile's
// temp-then-rename, which is a generic single-file atomic replace —
// distinct from the two-copy buffer's own three-path commit protocol,
// since a compacted export has no recovery story of its own: a torn
// write here simply means re-running compact.
func runCompact(args []string) int {
	fs := flag.NewFlagSet("compact", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	out := fs.String("out", "", "output snapshot path (required)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, "compact:", err)
		return 2
	}
	if fs.NArg() != 1 || *out == "" {
		fmt.Fprintln(os.Stderr, "Usage: persistctl compact --out=<path> <path>")
		return 2
	}
	path := fs.Arg(0)

	l, closeFn, err := openList(path, buffer.Barrier, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, "compact:", err)
		return 1
	}
	defer closeFn()

	var snapshot []byte
	var count uint32
	it := l.Iterator()
	for it.HasNext() {
		v, ok, err := it.Next()
		if err != nil {
			fmt.Fprintln(os.Stderr, "compact:", err)
			return 1
		}
		count++
		if !ok {
			snapshot = append(snapshot, 0)
			continue
		}
		var rec [9]byte
		rec[0] = 1
		binary.BigEndian.PutUint64(rec[1:], uint64(v))
		snapshot = append(snapshot, rec[:]...)
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, count)
	snapshot = append(header, snapshot...)

	if err := tempfile.WriteFile(*out, snapshot); err != nil {
		fmt.Fprintln(os.Stderr, "compact: write:", err)
		return 1
	}
	fmt.Printf("compacted %d elements to %s\n", count, *out)
	return 0
}
