// Package xlog is the package-wide informational logger: recovery
// repairs (list.Open's §4.6 walk) are reported through it rather than
// swallowed, matching the teacher's own
// `log.SetFlags(log.Lshortfile)` convention (dbm/crash/main.go).
package xlog

import (
	"fmt"
	"log"
)

var std = log.New(log.Writer(), "", log.LstdFlags|log.Lshortfile)

// Printf logs one informational record, such as a silently-repaired
// recovery: a non-fatal event a caller should be able to see in their
// own log stream without an error return.
func Printf(format string, args ...any) {
	std.Output(2, fmt.Sprintf(format, args...))
}
