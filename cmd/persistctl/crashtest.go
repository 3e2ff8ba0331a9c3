package main

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/ao-apps/ao-persistence/block"
	"github.com/ao-apps/ao-persistence/buffer"
	"github.com/ao-apps/ao-persistence/faultinject"
	"github.com/ao-apps/ao-persistence/list"
	"github.com/ao-apps/ao-persistence/serial"

	flag "github.com/spf13/pflag"
)

// runCrashTest loops a small addFirst/addLast/removeFirst/removeLast
// workload against a fault-injection-wrapped list, exactly the way the
// teacher's own dbm/crash/main.go loops dbm.Array.Set calls expecting
// an external kill or crash-injection wrapper to interrupt it — here
// the interruption is simulated in-process via faultinject instead of
// requiring a second `kill -9` process.
func runCrashTest(args []string) int {
	fs := flag.NewFlagSet("crash-test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	seed := fs.Int64("seed", time.Now().UnixNano(), "random seed")
	crashProb := fs.Float64("crash-probability", 0.05, "probability of a simulated crash per barrier")
	iterations := fs.Int("iterations", 10, "number of add/remove batches to run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, "crash-test:", err)
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: persistctl crash-test [--seed=N] [--crash-probability=P] <path>")
		return 2
	}
	path := fs.Arg(0)

	rng := rand.New(rand.NewSource(*seed))
	var crashes, batches int

	for i := 0; i < *iterations; i++ {
		base, err := buffer.OpenDirectBuffer(path, buffer.Config{ProtectionLevel: buffer.Force})
		if err != nil {
			fmt.Fprintln(os.Stderr, "crash-test: open base:", err)
			return 1
		}
		fi := faultinject.New(base, rng.Int63(), faultinject.Config{CrashProbability: *crashProb})
		blocks, err := block.OpenDynamicPersistentBlockBuffer(fi, block.Config{})
		if err != nil {
			fmt.Fprintln(os.Stderr, "crash-test: open blocks:", err)
			return 1
		}
		reg := serial.NewRegistry()
		l, err := list.Open(blocks, serial.Resolve[int64](reg))
		if err != nil {
			fmt.Fprintln(os.Stderr, "crash-test: open list:", err)
			return 1
		}

		crashedThisBatch := false
		for j := 0; j < 50; j++ {
			var err error
			switch rng.Intn(4) {
			case 0:
				err = l.AddFirst(rng.Int63())
			case 1:
				err = l.AddLast(rng.Int63())
			case 2:
				if l.Size() > 0 {
					err = l.RemoveFirst()
				}
			case 3:
				if l.Size() > 0 {
					err = l.RemoveLast()
				}
			}
			if err != nil {
				if _, ok := err.(*faultinject.CrashedError); ok {
					crashedThisBatch = true
					crashes++
					break
				}
				fmt.Fprintln(os.Stderr, "crash-test: operation:", err)
				return 1
			}
		}
		if !crashedThisBatch {
			_ = l.Close()
		}
		batches++
		fmt.Printf("batch %d: size=%d crashed=%v\n", i, l.Size(), crashedThisBatch)
	}

	fmt.Printf("%d batches, %d simulated crashes\n", batches, crashes)
	return 0
}
