// Package addrspace owns the backing file and the memory mapping over it.
// Everything above this package sees typed views over one []byte; the only
// direct use of the file descriptor outside it is the writeback package's
// Pread/Pwrite through Fd.
package addrspace

import (
	"fmt"
	"log"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"dedupindex/cell"
)

// Space is an open, memory-mapped backing file.
type Space struct {
	file *os.File
	data []byte
	size int64
}

// Open opens the backing file at path, creating and sizing it if it does
// not exist yet. size must be a positive multiple of cell.ExtentBytes.
//
// A fresh file is built under path+".tmp" and truncated to size before
// being renamed into place, so a crash partway through creation never
// leaves a half-sized file at the real path — the same tmp-then-rename
// dance bees' open_file performs.
func Open(path string, size int64) (*Space, error) {
	if size <= 0 || size%int64(cell.ExtentBytes) != 0 {
		return nil, fmt.Errorf("addrspace: size %d is not a positive multiple of extent size %d", size, cell.ExtentBytes)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if os.IsNotExist(err) {
		f, err = createSized(path, size)
	}
	if err != nil {
		return nil, fmt.Errorf("addrspace: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("addrspace: stat %s: %w", path, err)
	}
	if info.Size() != size {
		f.Close()
		return nil, fmt.Errorf("addrspace: %s has size %d, want %d", path, info.Size(), size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("addrspace: mmap %s: %w", path, err)
	}

	if err := unix.Madvise(data, unix.MADV_HUGEPAGE); err != nil {
		log.Printf("addrspace: madvise MADV_HUGEPAGE on %s failed (continuing): %v", path, err)
	}

	return &Space{file: f, data: data, size: size}, nil
}

func createSized(path string, size int64) (*os.File, error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	return os.OpenFile(path, os.O_RDWR, 0o644)
}

// Size returns the size of the mapping in bytes.
func (s *Space) Size() int64 {
	return s.size
}

// Fd returns the backing file descriptor, for Pread/Pwrite by the
// writeback package.
func (s *Space) Fd() int {
	return int(s.file.Fd())
}

// Bytes returns the raw backing slice.
func (s *Space) Bytes() []byte {
	return s.data
}

// Cells views the whole mapping as a flat cell array.
func (s *Space) Cells() []cell.Cell {
	n := len(s.data) / cell.CellBytes
	return unsafe.Slice((*cell.Cell)(unsafe.Pointer(&s.data[0])), n)
}

// Buckets views the whole mapping as a flat bucket array.
func (s *Space) Buckets() []cell.Bucket {
	n := len(s.data) / cell.BucketBytes
	return unsafe.Slice((*cell.Bucket)(unsafe.Pointer(&s.data[0])), n)
}

// Extents views the whole mapping as a flat extent array.
func (s *Space) Extents() []cell.Extent {
	n := len(s.data) / cell.ExtentBytes
	return unsafe.Slice((*cell.Extent)(unsafe.Pointer(&s.data[0])), n)
}

// Mlock locks the whole mapping into RAM, best-effort. Called once at
// startup by the audit loop; failures (permission, RLIMIT_MEMLOCK) are
// logged and otherwise ignored.
func (s *Space) Mlock() error {
	return unix.Mlock(s.data)
}

// Close unmaps the region and closes the backing file.
func (s *Space) Close() error {
	if err := unix.Munmap(s.data); err != nil {
		return fmt.Errorf("addrspace: munmap: %w", err)
	}
	return s.file.Close()
}
