// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bureau-foundation/acquire/lib/devicelink"
)

// Options configures the mount.
type Options struct {
	// Mountpoint is the directory where the device tree is mounted.
	// Created if it does not exist.
	Mountpoint string

	// Conn is the file transfer channel serving the mount. The
	// caller keeps ownership: closing the channel (or its session)
	// breaks the mount, so unmount first.
	Conn devicelink.FileConn

	// Root is the device directory presented at the mountpoint.
	// Empty means the device root "/".
	Root string

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, logs are
	// discarded.
	Logger *slog.Logger
}

// Mount mounts the device filesystem and returns the running server.
// The caller must call Unmount on the returned server when done. The
// device root is stat'd before mounting, so a dead channel or a bad
// root fails here rather than on first access.
func Mount(ctx context.Context, options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("devicefs: mountpoint is required")
	}
	if options.Conn == nil {
		return nil, fmt.Errorf("devicefs: file transfer connection is required")
	}
	if options.Root == "" {
		options.Root = "/"
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	entry, err := options.Conn.Stat(ctx, options.Root)
	if err != nil {
		return nil, fmt.Errorf("devicefs: checking device root %s: %w", options.Root, err)
	}
	if !entry.Dir && options.Root != "/" {
		return nil, fmt.Errorf("devicefs: device root %s is not a directory", options.Root)
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("devicefs: creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &dirNode{options: &options, path: options.Root}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "acquire-device",
			Name:       "acquire",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("devicefs: mounting at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("device filesystem mounted",
		"mountpoint", options.Mountpoint,
		"root", options.Root)
	return server, nil
}

// errno maps channel errors onto the errno the kernel expects.
// Anything unclassified is an I/O error; the log carries the detail
// the errno cannot.
func (o *Options) errno(op, target string, err error) syscall.Errno {
	switch {
	case errors.Is(err, devicelink.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, devicelink.ErrPermission):
		return syscall.EACCES
	default:
		o.Logger.Error("device operation failed",
			"op", op,
			"path", target,
			"error", err)
		return syscall.EIO
	}
}

// fillAttr populates a kernel attr from a device file entry. The
// mount is read-only, so everything is stripped to r--r--r--.
func fillAttr(attr *fuse.Attr, entry devicelink.FileInfo) {
	attr.Mode = syscall.S_IFREG | 0o444
	attr.Size = uint64(entry.Size)
	attr.Blocks = (attr.Size + 511) / 512
	mtime := uint64(entry.MTime)
	attr.Mtime = mtime
	attr.Atime = mtime
	attr.Ctime = mtime
}

// dirNode is a device directory.
type dirNode struct {
	gofuse.Inode
	options *Options
	path    string
}

var (
	_ gofuse.InodeEmbedder = (*dirNode)(nil)
	_ gofuse.NodeLookuper  = (*dirNode)(nil)
	_ gofuse.NodeReaddirer = (*dirNode)(nil)
	_ gofuse.NodeGetattrer = (*dirNode)(nil)
)

func (d *dirNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o555
	return 0
}

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	target := path.Join(d.path, name)

	entry, err := d.options.Conn.Stat(ctx, target)
	if err != nil {
		return nil, d.options.errno("stat", target, err)
	}

	if entry.Dir {
		child := d.NewPersistentInode(ctx, &dirNode{options: d.options, path: target},
			gofuse.StableAttr{Mode: syscall.S_IFDIR})
		out.Mode = syscall.S_IFDIR | 0o555
		return child, 0
	}

	child := d.NewPersistentInode(ctx, &fileNode{options: d.options, path: target},
		gofuse.StableAttr{Mode: syscall.S_IFREG})
	fillAttr(&out.Attr, entry)
	return child, 0
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	entries, err := d.options.Conn.List(ctx, d.path)
	if err != nil {
		return nil, d.options.errno("list", d.path, err)
	}

	dirEntries := make([]fuse.DirEntry, 0, len(entries))
	for _, entry := range entries {
		mode := uint32(syscall.S_IFREG)
		if entry.Dir {
			mode = syscall.S_IFDIR
		}
		dirEntries = append(dirEntries, fuse.DirEntry{Name: entry.Name, Mode: mode})
	}
	return &sliceDirStream{entries: dirEntries}, 0
}

// fileNode is a device file. Attributes are re-stat'd on Getattr and
// reads go straight to the device; the node holds no content.
type fileNode struct {
	gofuse.Inode
	options *Options
	path    string
}

var (
	_ gofuse.InodeEmbedder = (*fileNode)(nil)
	_ gofuse.NodeGetattrer = (*fileNode)(nil)
	_ gofuse.NodeOpener    = (*fileNode)(nil)
	_ gofuse.NodeReader    = (*fileNode)(nil)
)

func (f *fileNode) Getattr(ctx context.Context, fh gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	entry, err := f.options.Conn.Stat(ctx, f.path)
	if err != nil {
		return f.options.errno("stat", f.path, err)
	}
	fillAttr(&out.Attr, entry)
	return 0
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	// No cache flags: device content is not guaranteed immutable
	// while mounted.
	return nil, 0, 0
}

func (f *fileNode) Read(ctx context.Context, fh gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	// The channel bounds each chunk, so fill the kernel's buffer
	// with as many chunks as it takes.
	total := 0
	for total < len(dest) {
		data, eof, err := f.options.Conn.ReadChunk(ctx, f.path, off+int64(total), len(dest)-total)
		if err != nil {
			return nil, f.options.errno("read", f.path, err)
		}
		total += copy(dest[total:], data)
		if eof {
			break
		}
		if len(data) == 0 {
			f.options.Logger.Error("device returned empty chunk without EOF", "path", f.path)
			return nil, syscall.EIO
		}
	}
	return fuse.ReadResultData(dest[:total]), 0
}

// sliceDirStream serves a directory listing from a slice.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
