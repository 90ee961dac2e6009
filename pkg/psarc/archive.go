package psarc

import (
	"github.com/rifftools/psarc/pkg/common"
	"github.com/rifftools/psarc/pkg/reader"
	"github.com/rifftools/psarc/pkg/writer"
)

// Archive is an open read handle.
type Archive struct {
	r *reader.Reader
}

// Open opens an archive for reading.
func Open(path string) (*Archive, error) {
	r, err := reader.Open(path, reader.Options{})
	if err != nil {
		return nil, err
	}
	return &Archive{r: r}, nil
}

func (a *Archive) Header() common.ArchiveHeader {
	return a.r.Header()
}

func (a *Archive) Size() int64 {
	return a.r.ArchiveSize()
}

func (a *Archive) EntryCount() int {
	return a.r.EntryCount()
}

func (a *Archive) NamesAvailable() bool {
	return a.r.NamesAvailable()
}

// Names returns entry paths in manifest order.
func (a *Archive) Names() []string {
	return a.r.Names()
}

// Entries returns the content entries in TOC order.
func (a *Archive) Entries() []*common.Entry {
	return a.r.ListEntries()
}

// Read returns the full content of the named entry.
func (a *Archive) Read(name string) ([]byte, error) {
	return a.r.ReadEntry(name)
}

// ReadIndex returns the content of TOC record index. Record 0 is the
// manifest.
func (a *Archive) ReadIndex(index int) ([]byte, error) {
	return a.r.ReadEntryByIndex(index)
}

// Reader exposes the underlying archive reader for positioned access.
func (a *Archive) Reader() *reader.Reader {
	return a.r
}

func (a *Archive) Close() error {
	return a.r.Close()
}

// ArchiveWriter is a write handle. Entries queue up until Finalize
// writes the archive; closing an unfinalized writer discards them.
type ArchiveWriter struct {
	b          *writer.Builder
	outputPath string
	finalized  bool
}

// Create starts a new archive destined for outputPath.
func Create(outputPath string, opts writer.Options) *ArchiveWriter {
	return &ArchiveWriter{
		b:          writer.New(opts),
		outputPath: outputPath,
	}
}

func (w *ArchiveWriter) Add(name string, data []byte) error {
	return w.b.Add(name, data)
}

func (w *ArchiveWriter) AddFile(name string, sourcePath string) error {
	return w.b.AddFile(name, sourcePath)
}

func (w *ArchiveWriter) Count() int {
	return w.b.Count()
}

// Finalize writes the queued entries to the destination path.
func (w *ArchiveWriter) Finalize() error {
	if err := w.b.Finalize(w.outputPath); err != nil {
		return err
	}
	w.finalized = true
	return nil
}

// Close discards queued entries if the archive was never finalized.
func (w *ArchiveWriter) Close() error {
	if !w.finalized {
		w.b.Discard()
	}
	return nil
}
