package buffer

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes an advisory, whole-file lock on f: exclusive for a
// writable buffer, shared for a read-only one. Grounded on
// calvinalkan-agent-task/internal/fs/lock.go's use of flock(2) to lock an
// open file's inode; we use golang.org/x/sys/unix instead of the raw
// syscall package for the same call.
func lockFile(f *os.File, readOnly bool) error {
	how := unix.LOCK_EX
	if readOnly {
		how = unix.LOCK_SH
	}
	return unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// fdatasync flushes f's data (and, where the platform requires it,
// metadata) to physical media.
func fdatasync(f *os.File) error {
	fd := int(f.Fd())
	if err := unix.Fdatasync(fd); err != nil {
		// Fdatasync is unavailable on some platforms (e.g. darwin maps it
		// to fsync already); fall back to a full Sync for portability.
		return f.Sync()
	}
	return nil
}
