package list

import (
	"testing"

	"github.com/ao-apps/ao-persistence/block"
	"github.com/ao-apps/ao-persistence/buffer"
	"github.com/ao-apps/ao-persistence/serial"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// FuzzPersistentLinkedListMatchesSliceReference checks
// PersistentLinkedList[int64] against an in-memory slice reference
// implementation across op sequences derived from fuzzer-supplied
// bytes: every pair of bytes picks an operation and an argument, and
// the list's observable state (Size, indexed Get, forward iteration)
// must agree with the reference once the whole sequence has run.
func FuzzPersistentLinkedListMatchesSliceReference(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0, 1, 0, 2, 1, 0})
	f.Add([]byte{2, 0, 2, 0, 3, 1, 4, 0})
	f.Add([]byte{1, 0, 1, 0, 1, 0, 4, 1, 2, 0, 3, 0})

	f.Fuzz(func(t *testing.T, ops []byte) {
		mem := buffer.NewMemoryBuffer("mem")
		blocks, err := block.OpenDynamicPersistentBlockBuffer(mem, block.Config{})
		if err != nil {
			t.Fatal(err)
		}
		l, err := Open[int64](blocks, serial.Int64Codec{})
		if err != nil {
			t.Fatal(err)
		}

		var ref []int64
		nextValue := int64(1)

		apply := func(op, arg byte) {
			switch op % 5 {
			case 0: // AddFirst
				v := nextValue
				nextValue++
				if err := l.AddFirst(v); err != nil {
					t.Fatalf("AddFirst: %v", err)
				}
				ref = append([]int64{v}, ref...)
			case 1: // AddLast
				v := nextValue
				nextValue++
				if err := l.AddLast(v); err != nil {
					t.Fatalf("AddLast: %v", err)
				}
				ref = append(ref, v)
			case 2: // RemoveFirst
				if len(ref) == 0 {
					return
				}
				if err := l.RemoveFirst(); err != nil {
					t.Fatalf("RemoveFirst: %v", err)
				}
				ref = ref[1:]
			case 3: // RemoveLast
				if len(ref) == 0 {
					return
				}
				if err := l.RemoveLast(); err != nil {
					t.Fatalf("RemoveLast: %v", err)
				}
				ref = ref[:len(ref)-1]
			case 4: // Set at an existing index
				if len(ref) == 0 {
					return
				}
				idx := int64(arg) % int64(len(ref))
				v := nextValue
				nextValue++
				if err := l.Set(idx, v); err != nil {
					t.Fatalf("Set: %v", err)
				}
				ref[idx] = v
			}
		}

		for i := 0; i+1 < len(ops); i += 2 {
			apply(ops[i], ops[i+1])
		}
		if len(ops)%2 == 1 {
			apply(ops[len(ops)-1], 0)
		}

		if got, want := l.Size(), int64(len(ref)); got != want {
			t.Fatalf("Size() = %d, want %d (ref %v)", got, want, ref)
		}

		got := make([]int64, 0, len(ref))
		for i := range ref {
			v, ok, err := l.Get(int64(i))
			if err != nil {
				t.Fatalf("Get(%d): %v", i, err)
			}
			if !ok {
				t.Fatalf("Get(%d): unexpected null element", i)
			}
			got = append(got, v)
		}
		if diff := cmp.Diff(ref, got, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("list contents diverged from reference (-want +got):\n%s", diff)
		}

		it := l.Iterator()
		var iterated []int64
		for it.HasNext() {
			v, ok, err := it.Next()
			if err != nil {
				t.Fatalf("iterator Next: %v", err)
			}
			if !ok {
				t.Fatalf("iterator Next: unexpected null element")
			}
			iterated = append(iterated, v)
		}
		if diff := cmp.Diff(ref, iterated, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("forward iteration diverged from reference (-want +got):\n%s", diff)
		}

		if err := l.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
}
