// Command persistctl drives a buffer/block/list stack directly from
// the command line: inspect an existing file's list contents,
// export a flat compacted snapshot of it, or run a crash-test
// workload against it, with crashes simulated in-process by the
// faultinject wrapper.
//
// Grounded on _examples/cznic-exp/dbm/crash/main.go (the teacher's own
// crash-test binary: flag-parsed, log-driven, loops a workload against
// a real file and expects an external kill or a fault-injection wrapper
// to interrupt it), enriched with calvinalkan-agent-task's subcommand
// dispatch + per-command pflag.FlagSet style (internal/cli/cmd_ls.go).
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var code int
	switch os.Args[1] {
	case "inspect":
		code = runInspect(os.Args[2:])
	case "crash-test":
		code = runCrashTest(os.Args[2:])
	case "compact":
		code = runCompact(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		code = 0
	default:
		fmt.Fprintf(os.Stderr, "persistctl: unknown subcommand %q\n", os.Args[1])
		usage()
		code = 2
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: persistctl <inspect|crash-test|compact> [flags]")
}
