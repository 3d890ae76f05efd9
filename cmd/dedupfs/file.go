package main

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

var (
	_ fs.FileHandle  = (*dedupfsFile)(nil)
	_ fs.FileReader  = (*dedupfsFile)(nil)
	_ fs.FileWriter  = (*dedupfsFile)(nil)
	_ fs.FileFlusher = (*dedupfsFile)(nil)
	_ fs.FileReleaser = (*dedupfsFile)(nil)
	_ fs.FileFsyncer = (*dedupfsFile)(nil)
)

// Read mirrors vfs.OptiFSFile's Read: hand the descriptor straight to the
// FUSE library's zero-copy read helper.
func (f *dedupfsFile) Read(ctx context.Context, dest []byte, offset int64) (fuse.ReadResult, syscall.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fuse.ReadResultFd(uintptr(f.fd), offset, len(dest)), fs.OK
}

// Write mirrors vfs.OptiFSNode's Write: perform the real pwrite, and
// accumulate the written bytes so Release can hash the whole write and
// consult the index once, rather than per block as they land (bees itself
// batches dedup work per extent for the same reason).
func (f *dedupfsFile) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := syscall.Pwrite(f.fd, data, off)
	if err != nil {
		return 0, fs.ToErrno(err)
	}
	f.written = append(f.written, data[:n]...)
	return uint32(n), fs.OK
}

// Flush mirrors vfs.OptiFSNode's Flush: close a dup of the descriptor so
// a later close of the real one still flushes any pending writeback.
func (f *dedupfsFile) Flush(ctx context.Context) syscall.Errno {
	dup, err := syscall.Dup(f.fd)
	if err != nil {
		return fs.ToErrno(err)
	}
	return fs.ToErrno(syscall.Close(dup))
}

// Fsync mirrors vfs.OptiFSFile's Fsync.
func (f *dedupfsFile) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fs.ToErrno(syscall.Fsync(f.fd))
}

// Release mirrors vfs.OptiFSNode's Release: on a write-intent close with
// accumulated content, hash it and either reuse an existing entry's
// address (duplicate content) or insert a new one at a random bucket
// position.
func (f *dedupfsFile) Release(ctx context.Context) syscall.Errno {
	f.mu.Lock()
	written := f.written
	f.written = nil
	flags := f.flags
	fd := f.fd
	f.mu.Unlock()

	if writeIntent(flags) && len(written) > 0 {
		h := f.root.Index.HashBlock(written)
		existing := f.root.Index.Engine.Lookup(h)
		if len(existing) > 0 {
			logf("dedupfs: %s matches existing content, reusing address %#x", f.path, existing[0].Addr)
			f.root.Index.Engine.PushFront(h, existing[0].Addr)
		} else {
			addr := f.root.newAddr()
			logf("dedupfs: %s is new content, recording address %#x", f.path, uint64(addr))
			f.root.Index.Engine.PushInsertRandom(h, uint64(addr))
		}
	}

	return fs.ToErrno(syscall.Close(fd))
}
