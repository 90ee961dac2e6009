package mount

import (
	"context"
	"path"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog/log"
)

// FSNode is one inode of a mounted archive. The filesystem is strictly
// read-only; every mutating operation answers EROFS.
type FSNode struct {
	fs.Inode
	filesystem *FileSystem
	node       *treeNode
	attr       fuse.Attr
}

func (n *FSNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	log.Debug().Str("path", n.node.Path).Msg("Getattr called")

	out.Attr = n.node.Attr
	return fs.OK
}

func (n *FSNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	log.Debug().Str("path", n.node.Path).Str("name", name).Msg("Lookup called")

	childPath := path.Join(n.node.Path, name)

	n.filesystem.cacheMutex.RLock()
	entry, found := n.filesystem.lookupCache[childPath]
	n.filesystem.cacheMutex.RUnlock()
	if found {
		out.Attr = entry.attr
		return entry.inode, fs.OK
	}

	child := n.filesystem.tree.Get(childPath)
	if child == nil {
		return nil, syscall.ENOENT
	}

	out.Attr = child.Attr

	childInode := n.NewInode(ctx, &FSNode{filesystem: n.filesystem, node: child, attr: child.Attr},
		fs.StableAttr{Mode: child.Attr.Mode, Ino: child.Attr.Ino})

	n.filesystem.cacheMutex.Lock()
	n.filesystem.lookupCache[childPath] = &lookupCacheEntry{inode: childInode, attr: child.Attr}
	n.filesystem.cacheMutex.Unlock()

	return childInode, fs.OK
}

func (n *FSNode) Opendir(ctx context.Context) syscall.Errno {
	log.Debug().Str("path", n.node.Path).Msg("Opendir called")
	return fs.OK
}

func (n *FSNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	log.Debug().Str("path", n.node.Path).Msg("Readdir called")

	dirEntries := n.filesystem.tree.ListDirectory(n.node.Path)
	return fs.NewListDirStream(dirEntries), fs.OK
}

func (n *FSNode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	log.Debug().Str("path", n.node.Path).Uint32("flags", flags).Msg("Open called")

	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	return nil, fuse.FOPEN_KEEP_CACHE, fs.OK
}

func (n *FSNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	log.Debug().Str("path", n.node.Path).Int64("offset", off).Msg("Read called")

	if n.node.Entry == nil {
		return nil, syscall.EISDIR
	}

	fileSize := n.node.Entry.Length
	if off >= fileSize || fileSize == 0 {
		return fuse.ReadResultData(dest[:0]), fs.OK
	}

	readLen := int64(len(dest))
	if maxReadable := fileSize - off; readLen > maxReadable {
		readLen = maxReadable
	}

	er, err := n.filesystem.entryReader(n.node)
	if err != nil {
		log.Error().Err(err).Str("path", n.node.Path).Msg("could not open entry")
		return nil, syscall.EIO
	}

	nRead, err := er.ReadAt(dest[:readLen], off)
	if err != nil {
		log.Error().Err(err).Str("path", n.node.Path).Msg("entry read failed")
		return nil, syscall.EIO
	}

	return fuse.ReadResultData(dest[:nRead]), fs.OK
}

func (n *FSNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (inode *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	return nil, nil, 0, syscall.EROFS
}

func (n *FSNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

func (n *FSNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

func (n *FSNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

func (n *FSNode) Rename(ctx context.Context, oldName string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return syscall.EROFS
}

func (n *FSNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}

type lookupCacheEntry struct {
	inode *fs.Inode
	attr  fuse.Attr
}
