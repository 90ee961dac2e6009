// Package mount exposes an archive as a read-only FUSE filesystem. The
// flat manifest path list is synthesized into a directory tree; file
// reads decode blocks on demand through the archive reader and its
// block cache.
package mount

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/moby/sys/mountinfo"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/rifftools/psarc/pkg/metrics"
	"github.com/rifftools/psarc/pkg/reader"
)

type Options struct {
	ArchivePath string
	MountPoint  string

	// CacheSize is passed through to the archive reader's block cache.
	CacheSize int64
}

// FileSystem serves one archive.
type FileSystem struct {
	r    *reader.Reader
	tree *tree
	root *FSNode

	lookupCache map[string]*lookupCacheEntry
	cacheMutex  sync.RWMutex

	entryReaders   map[string]*reader.EntryReader
	entryReadersMu sync.Mutex
}

// NewFileSystem builds the FUSE view over an open reader. The reader's
// manifest must have decoded; positional recovery has no paths to
// serve.
func NewFileSystem(r *reader.Reader, mtime time.Time) (*FileSystem, error) {
	if !r.NamesAvailable() {
		return nil, fmt.Errorf("archive manifest is unreadable, nothing to mount")
	}

	t := buildTree(r.ListEntries(), uint64(mtime.Unix()))
	rootNode := t.Get("/")

	m := &FileSystem{
		r:            r,
		tree:         t,
		lookupCache:  make(map[string]*lookupCacheEntry),
		entryReaders: make(map[string]*reader.EntryReader),
	}
	m.root = &FSNode{filesystem: m, node: rootNode, attr: rootNode.Attr}

	return m, nil
}

func (m *FileSystem) Root() (fs.InodeEmbedder, error) {
	if m.root == nil {
		return nil, fmt.Errorf("root not initialized")
	}
	return m.root, nil
}

func (m *FileSystem) entryReader(node *treeNode) (*reader.EntryReader, error) {
	m.entryReadersMu.Lock()
	defer m.entryReadersMu.Unlock()

	if er, ok := m.entryReaders[node.Path]; ok {
		return er, nil
	}

	er, err := m.r.EntryReader(node.Entry.Name)
	if err != nil {
		return nil, err
	}
	m.entryReaders[node.Path] = er
	return er, nil
}

// Mount serves the archive at the mount point. The returned start
// function blocks in the background until the mount is live; callers
// watch the error channel and use the server handle to unmount.
func Mount(options Options) (func() error, <-chan error, *fuse.Server, error) {
	log.Info().Msgf("mounting archive %s to %s", options.ArchivePath, options.MountPoint)

	if _, err := os.Stat(options.MountPoint); os.IsNotExist(err) {
		if err := os.MkdirAll(options.MountPoint, 0755); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create mount point directory: %v", err)
		}
	}

	r, err := reader.Open(options.ArchivePath, reader.Options{CacheSize: options.CacheSize})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid archive: %v", err)
	}

	info, err := os.Stat(options.ArchivePath)
	if err != nil {
		r.Close()
		return nil, nil, nil, err
	}

	fsys, err := NewFileSystem(r, info.ModTime())
	if err != nil {
		r.Close()
		return nil, nil, nil, fmt.Errorf("could not create filesystem: %v", err)
	}

	root, _ := fsys.Root()
	attrTimeout := time.Second * 60
	entryTimeout := time.Second * 60
	fsOptions := &fs.Options{
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
	}
	server, err := fuse.NewServer(fs.NewNodeFS(root, fsOptions), options.MountPoint, &fuse.MountOptions{
		FsName:        "psarc",
		Name:          "psarc",
		DisableXAttrs: true,
		MaxReadAhead:  1024 * 128,
	})
	if err != nil {
		r.Close()
		return nil, nil, nil, fmt.Errorf("could not create server: %v", err)
	}

	serverError := make(chan error, 1)
	startServer := func() error {
		go func() {
			go server.Serve()

			if err := server.WaitMount(); err != nil {
				serverError <- err
				return
			}

			server.Wait()
			metrics.LogMetricsSummary()
			r.Close()
			close(serverError)
		}()

		return nil
	}

	return startServer, serverError, server, nil
}

// Unmount detaches a previously mounted archive. The path is verified
// against the mount table first so a stray path never gets detached.
func Unmount(mountPoint string) error {
	mounted, err := mountinfo.Mounted(mountPoint)
	if err != nil {
		return fmt.Errorf("check mount point %s: %w", mountPoint, err)
	}
	if !mounted {
		return fmt.Errorf("%s is not a mount point", mountPoint)
	}

	if err := unix.Unmount(mountPoint, 0); err != nil {
		return fmt.Errorf("unmount %s: %w", mountPoint, err)
	}

	log.Info().Msgf("unmounted %s", mountPoint)
	return nil
}
