package main

import (
	"context"
	"log"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

func (n *dedupfsNode) newChild(st *syscall.Stat_t) *fs.Inode {
	return n.NewInode(context.Background(), &dedupfsNode{root: n.root}, fs.StableAttr{
		Mode: st.Mode,
		Ino:  st.Ino,
		Gen:  1,
	})
}

// Lookup finds a child by name underneath n, mirroring vfs.OptiFSNode's
// Lookup: stat the underlying path, then hand back a child inode.
func (n *dedupfsNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	path := n.rpath() + "/" + name
	var st syscall.Stat_t
	if err := syscall.Lstat(path, &st); err != nil {
		return nil, fs.ToErrno(err)
	}
	out.Attr.FromStat(&st)
	return n.newChild(&st), fs.OK
}

// Getattr mirrors vfs.OptiFSNode's Getattr: stat the underlying path.
func (n *dedupfsNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	var st syscall.Stat_t
	if err := syscall.Lstat(n.rpath(), &st); err != nil {
		return fs.ToErrno(err)
	}
	out.Attr.FromStat(&st)
	return fs.OK
}

// Opendir mirrors vfs.OptiFSNode's Opendir: a plain existence/access check.
func (n *dedupfsNode) Opendir(ctx context.Context) syscall.Errno {
	fd, err := syscall.Open(n.rpath(), syscall.O_DIRECTORY, 0755)
	if err != nil {
		return fs.ToErrno(err)
	}
	syscall.Close(fd)
	return fs.OK
}

// Readdir mirrors vfs.OptiFSNode's Readdir.
func (n *dedupfsNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	return fs.NewLoopbackDirStream(n.rpath())
}

// Open mirrors vfs.OptiFSNode's Open: open the underlying file and wrap
// the descriptor in a dedupfsFile.
func (n *dedupfsNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	fd, err := syscall.Open(n.rpath(), int(flags), 0666)
	if err != nil {
		return nil, 0, fs.ToErrno(err)
	}
	return &dedupfsFile{fd: fd, flags: flags, root: n.root, path: n.rpath()}, flags, fs.OK
}

// Create mirrors vfs.OptiFSNode's Create.
func (n *dedupfsNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	path := n.rpath() + "/" + name
	fd, err := syscall.Open(path, int(flags)|os.O_CREATE, mode)
	if err != nil {
		return nil, nil, 0, fs.ToErrno(err)
	}
	var st syscall.Stat_t
	if err := syscall.Lstat(path, &st); err != nil {
		syscall.Close(fd)
		return nil, nil, 0, fs.ToErrno(err)
	}
	out.Attr.FromStat(&st)
	child := n.newChild(&st)
	return child, &dedupfsFile{fd: fd, flags: flags, root: n.root, path: path}, flags, fs.OK
}

// Mkdir mirrors vfs.OptiFSNode's Mkdir.
func (n *dedupfsNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	path := n.rpath() + "/" + name
	if err := syscall.Mkdir(path, mode); err != nil {
		return nil, fs.ToErrno(err)
	}
	var st syscall.Stat_t
	if err := syscall.Lstat(path, &st); err != nil {
		return nil, fs.ToErrno(err)
	}
	out.Attr.FromStat(&st)
	return n.newChild(&st), fs.OK
}

// Unlink mirrors vfs.OptiFSNode's Unlink.
func (n *dedupfsNode) Unlink(ctx context.Context, name string) syscall.Errno {
	path := n.rpath() + "/" + name
	if err := syscall.Unlink(path); err != nil {
		return fs.ToErrno(err)
	}
	return fs.OK
}

func logf(format string, args ...any) {
	log.Printf(format, args...)
}
