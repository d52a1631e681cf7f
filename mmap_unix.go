//go:build !windows

package acebase

import (
	"os"

	"golang.org/x/sys/unix"
)

// MMap is the byte-array view of the memory-mapped storage file. Grounded on
// the teacher's MMap type (Types.go) and RDONLY/RDWR/COPY/EXEC flag constants;
// the teacher's own mmap syscall wrapper wasn't present in the retrieved
// pack, so Map/Unmap/Flush are rebuilt here against the same dependency
// (golang.org/x/sys/unix) and the same flag semantics the teacher declares.
type MMap []byte

// Map memory-maps file starting at offset, honoring the RDONLY/RDWR/COPY/EXEC
// flag combination.
func Map(file *os.File, flags int, offset int64) (MMap, error) {
	info, statErr := file.Stat()
	if statErr != nil {
		return nil, statErr
	}

	size := info.Size() - offset
	if size <= 0 {
		return MMap{}, nil
	}

	prot := unix.PROT_READ
	if flags&RDWR != 0 || flags&COPY != 0 {
		prot |= unix.PROT_WRITE
	}
	if flags&EXEC != 0 {
		prot |= unix.PROT_EXEC
	}

	mapFlags := unix.MAP_SHARED
	if flags&COPY != 0 {
		mapFlags = unix.MAP_PRIVATE
	}

	data, mmapErr := unix.Mmap(int(file.Fd()), offset, int(size), prot, mapFlags)
	if mmapErr != nil {
		return nil, mmapErr
	}

	return MMap(data), nil
}

// Unmap releases the memory mapping.
func (m *MMap) Unmap() error {
	if len(*m) == 0 {
		return nil
	}

	err := unix.Munmap(*m)
	*m = nil
	return err
}

// Flush synchronizes the mapped bytes back to the underlying file.
func (m MMap) Flush() error {
	if len(m) == 0 {
		return nil
	}
	return unix.Msync([]byte(m), unix.MS_SYNC)
}
