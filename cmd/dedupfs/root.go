// Package main implements a minimal loopback FUSE filesystem that feeds
// every file write through the hash index, standing in for the
// out-of-scope block scanner and filesystem dedup syscall wrapper so this
// module has a runnable consumer exercising github.com/hanwen/go-fuse/v2.
package main

import (
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"

	"dedupindex"
	"dedupindex/blockaddr"
)

// dedupfsRoot is the loopback root, grounded on vfs.OptiFSRoot: the
// underlying directory this filesystem passes operations through to, plus
// the shared state every node and file handle needs.
type dedupfsRoot struct {
	// Path is the underlying directory being mirrored.
	Path string

	// Index is the hash table every file write is checked against.
	Index *dedupindex.Index

	// BlockSize is the step between the synthetic block offsets newAddr
	// hands out.
	BlockSize int

	// nextAddr hands out synthetic addresses for newly inserted blocks.
	// A real deployment would use the physical block address the
	// filesystem allocated for the write; this demo has no such
	// allocator, so it fabricates monotonically increasing ones.
	nextAddr atomic.Uint64
}

func (r *dedupfsRoot) newAddr() blockaddr.Address {
	off := r.nextAddr.Add(uint64(r.BlockSize))
	return blockaddr.New(off)
}

// dedupfsNode is a loopback inode, grounded on vfs.OptiFSNode trimmed down
// to the operations this demo needs.
type dedupfsNode struct {
	fs.Inode
	root *dedupfsRoot
}

var (
	_ fs.InodeEmbedder = (*dedupfsNode)(nil)
	_ fs.NodeLookuper  = (*dedupfsNode)(nil)
	_ fs.NodeGetattrer = (*dedupfsNode)(nil)
	_ fs.NodeOpendirer = (*dedupfsNode)(nil)
	_ fs.NodeReaddirer = (*dedupfsNode)(nil)
	_ fs.NodeOpener    = (*dedupfsNode)(nil)
	_ fs.NodeCreater   = (*dedupfsNode)(nil)
	_ fs.NodeMkdirer   = (*dedupfsNode)(nil)
	_ fs.NodeUnlinker  = (*dedupfsNode)(nil)
)

// rpath returns the path of n relative to the loopback root, joined onto
// the real underlying directory.
func (n *dedupfsNode) rpath() string {
	path := n.Path(n.Root())
	return n.root.Path + "/" + path
}

// dedupfsFile is an open file handle, grounded on vfs.OptiFSFile trimmed
// to read/write/release plus the accumulation buffer Release hashes.
type dedupfsFile struct {
	mu    sync.Mutex
	fd    int
	flags uint32
	root  *dedupfsRoot
	path  string

	written []byte
}

func writeIntent(flags uint32) bool {
	return flags&syscall.O_WRONLY == syscall.O_WRONLY ||
		flags&syscall.O_RDWR == syscall.O_RDWR ||
		flags&syscall.O_CREAT == syscall.O_CREAT ||
		flags&syscall.O_TRUNC == syscall.O_TRUNC ||
		flags&syscall.O_APPEND == syscall.O_APPEND
}
