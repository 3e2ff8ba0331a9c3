// Package tempfile wraps a temp-file-then-rename atomic file
// replacement, grounded on calvinalkan-agent-task's direct dependency
// on github.com/natefinch/atomic (cache_binary.go, ticket.go,
// lock.go all call atomic.WriteFile to replace a file's full contents
// without ever exposing a partially written version to a reader).
//
// This is explicitly distinct from buffer.TwoCopyBarrierBuffer's own
// three-path (base/base.new/base.old) commit protocol: that protocol
// needs the specific rename sequence spec.md §4.3 mandates so recovery
// can distinguish "mid-commit" from "committed", which a generic
// single-file atomic replace cannot express. This package exists for
// the one place the module writes a whole file in one shot with no
// recovery story of its own: cmd/persistctl's compact subcommand.
package tempfile

import (
	"bytes"
	"io"

	"github.com/natefinch/atomic"
)

// WriteFile atomically replaces path's full contents with data: it
// writes to a temporary file in the same directory, then renames it
// over path, so a concurrent reader never observes a partial write.
func WriteFile(path string, data []byte) error {
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// WriteFileFrom atomically replaces path's full contents by draining r.
func WriteFileFrom(path string, r io.Reader) error {
	return atomic.WriteFile(path, r)
}
