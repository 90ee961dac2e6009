package mount

import (
	"path"
	"strings"
	"sync"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/tidwall/btree"

	"github.com/rifftools/psarc/pkg/common"
)

type nodeType string

const (
	dirNode  nodeType = "dir"
	fileNode nodeType = "file"
)

// treeNode is one path in the synthesized directory tree. Archives
// store a flat path list, so directories only exist here, not in the
// TOC.
type treeNode struct {
	NodeType nodeType
	Path     string
	Attr     fuse.Attr
	Entry    *common.Entry // nil for directories
}

func (n *treeNode) IsDir() bool {
	return n.NodeType == dirNode
}

// tree is a path-ordered index over every node in the mounted archive.
type tree struct {
	index *btree.BTree

	dirCacheMu sync.RWMutex
	dirCache   map[string][]fuse.DirEntry
}

func newTree() *tree {
	compare := func(a, b interface{}) bool {
		return a.(*treeNode).Path < b.(*treeNode).Path
	}
	return &tree{
		index:    btree.New(compare),
		dirCache: make(map[string][]fuse.DirEntry),
	}
}

func (t *tree) Insert(node *treeNode) {
	t.index.Set(node)
}

func (t *tree) Get(path string) *treeNode {
	item := t.index.Get(&treeNode{Path: path})
	if item == nil {
		return nil
	}
	return item.(*treeNode)
}

// ListDirectory returns the immediate children of a directory path.
func (t *tree) ListDirectory(path string) []fuse.DirEntry {
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}

	t.dirCacheMu.RLock()
	entries, found := t.dirCache[path]
	t.dirCacheMu.RUnlock()
	if found {
		return entries
	}

	// \x00 sorts below every other byte, so the ascent starts at the
	// first child of path without matching path itself.
	pivot := &treeNode{Path: path + "\x00"}
	pathLen := len(path)

	t.index.Ascend(pivot, func(a interface{}) bool {
		node := a.(*treeNode)

		if len(node.Path) < pathLen || node.Path[:pathLen] != path {
			return false
		}

		relativePath := node.Path[pathLen:]
		if relativePath == "" || strings.Contains(relativePath, "/") {
			return true
		}

		entries = append(entries, fuse.DirEntry{
			Mode: node.Attr.Mode,
			Name: relativePath,
		})
		return true
	})

	t.dirCacheMu.Lock()
	t.dirCache[path] = entries
	t.dirCacheMu.Unlock()

	return entries
}

// buildTree synthesizes the directory tree for a flat entry list. Inode
// numbers are assigned in path-insertion order starting at 1 for the
// root.
func buildTree(entries []*common.Entry, mtime uint64) *tree {
	t := newTree()

	var ino uint64 = 1
	nextIno := func() uint64 {
		n := ino
		ino++
		return n
	}

	makeDir := func(p string) {
		t.Insert(&treeNode{
			NodeType: dirNode,
			Path:     p,
			Attr: fuse.Attr{
				Ino:   nextIno(),
				Mode:  fuse.S_IFDIR | 0555,
				Nlink: 1,
				Mtime: mtime,
			},
		})
	}

	makeDir("/")

	for _, entry := range entries {
		full := "/" + strings.TrimLeft(entry.Name, "/")

		// Parent directories first, nearest the root outward.
		for _, dir := range parentDirs(full) {
			if t.Get(dir) == nil {
				makeDir(dir)
			}
		}

		t.Insert(&treeNode{
			NodeType: fileNode,
			Path:     full,
			Entry:    entry,
			Attr: fuse.Attr{
				Ino:   nextIno(),
				Size:  uint64(entry.Length),
				Mode:  fuse.S_IFREG | 0444,
				Nlink: 1,
				Mtime: mtime,
			},
		})
	}

	return t
}

// parentDirs lists every ancestor directory of an absolute path,
// excluding the root, ordered shallow to deep.
func parentDirs(full string) []string {
	var dirs []string
	for dir := path.Dir(full); dir != "/" && dir != "."; dir = path.Dir(dir) {
		dirs = append([]string{dir}, dirs...)
	}
	return dirs
}
