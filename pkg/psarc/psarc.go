// Package psarc is the high level interface for working with song
// archives: packing directories, unpacking archives, and recovering
// content from archives with damaged manifests.
package psarc

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rifftools/psarc/pkg/metrics"
	"github.com/rifftools/psarc/pkg/reader"
	"github.com/rifftools/psarc/pkg/sniff"
	"github.com/rifftools/psarc/pkg/writer"
)

// SetLogLevel configures the logging verbosity for the PSARC library.
// Valid levels: "debug", "info", "warn", "error", "disabled"
// Use "debug" to see detailed operation logs (block decodes, cache hits/misses, etc.)
// Use "info" for high-level operation logs (default)
// Use "disabled" to suppress all logs
func SetLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "disabled", "none", "off":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		return fmt.Errorf("invalid log level %q: must be one of: debug, info, warn, error, disabled", level)
	}
	return nil
}

type PackOptions struct {
	InputPath  string
	OutputPath string

	// BlockSize overrides the default 64 KiB chunking granularity.
	BlockSize uint32

	// PlainTOC leaves the table of contents unencrypted. Stock song
	// archives carry an encrypted TOC, so that is the default.
	PlainTOC bool

	// Seal encrypts the finished archive end to end.
	Seal bool
}

type UnpackOptions struct {
	InputFile  string
	OutputPath string
}

// UnpackResult summarizes one extraction: how many entries were
// written, where, and what their extensions were. Extensions are
// lowercased; entries recovered under stand-in names carry the sniffed
// extension.
type UnpackResult struct {
	Entries     int
	Paths       []string
	ByExtension map[string]int
}

// AudioFiles counts the extracted files whose extension marks them as
// audio, so callers can locate them without re-walking the output.
func (u *UnpackResult) AudioFiles() int {
	n := 0
	for ext, count := range u.ByExtension {
		if sniff.IsAudioExt(ext) {
			n += count
		}
	}
	return n
}

func (u *UnpackResult) record(dest string) {
	u.Entries++
	u.Paths = append(u.Paths, dest)
	u.ByExtension[strings.ToLower(filepath.Ext(dest))]++
}

// Pack archives a directory tree. Files are added in lexical walk
// order, so packing the same tree twice produces the same entry order.
func Pack(options PackOptions) error {
	log.Info().Msgf("creating archive from %s to %s", options.InputPath, options.OutputPath)
	metrics.RecordPackStart(options.OutputPath)

	b := writer.New(writer.Options{
		BlockSize:   options.BlockSize,
		EncryptTOC:  !options.PlainTOC,
		SealArchive: options.Seal,
	})

	err := godirwalk.Walk(options.InputPath, &godirwalk.Options{
		Callback: func(osPath string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			if de.IsSymlink() {
				log.Debug().Msgf("skipping symlink: %s", osPath)
				return nil
			}

			rel, err := filepath.Rel(options.InputPath, osPath)
			if err != nil {
				return err
			}
			return b.AddFile(filepath.ToSlash(rel), osPath)
		},
		Unsorted: false,
	})
	if err != nil {
		return err
	}

	if err := b.Finalize(options.OutputPath); err != nil {
		return err
	}

	metrics.RecordPackEnd(options.OutputPath)
	log.Info().Msg("archive created successfully")
	return nil
}

// Unpack extracts an archive into a directory, recreating the paths its
// manifest names. When the manifest cannot be decoded the entries are
// recovered under stand-in names instead.
func Unpack(options UnpackOptions) (*UnpackResult, error) {
	log.Info().Msgf("extracting archive: %s", options.InputFile)

	r, err := reader.Open(options.InputFile, reader.Options{})
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var result *UnpackResult
	if r.NamesAvailable() {
		result, err = unpackNamed(r, options.OutputPath)
	} else {
		log.Warn().Msg("manifest is unreadable, recovering entries under stand-in names")
		result, err = unpackRaw(r, options.OutputPath)
	}
	if err != nil {
		return nil, err
	}

	log.Info().Msgf("extracted %d entries (%d audio files)", result.Entries, result.AudioFiles())
	return result, nil
}

// UnpackRaw extracts entries under stand-in names, ignoring the
// manifest even when it is readable.
func UnpackRaw(options UnpackOptions) (*UnpackResult, error) {
	log.Info().Msgf("recovering archive contents: %s", options.InputFile)

	r, err := reader.Open(options.InputFile, reader.Options{})
	if err != nil {
		return nil, err
	}
	defer r.Close()

	result, err := unpackRaw(r, options.OutputPath)
	if err != nil {
		return nil, err
	}

	log.Info().Msgf("recovered %d entries (%d audio files)", result.Entries, result.AudioFiles())
	return result, nil
}

func unpackNamed(r *reader.Reader, outputPath string) (*UnpackResult, error) {
	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return nil, err
	}

	result := &UnpackResult{ByExtension: make(map[string]int)}
	for _, entry := range r.ListEntries() {
		dest, err := entryDestination(outputPath, entry.Name)
		if err != nil {
			log.Warn().Err(err).Msg("skipping entry")
			continue
		}

		er, err := r.EntryReader(entry.Name)
		if err != nil {
			return nil, err
		}

		if err := writeFile(dest, er.Section()); err != nil {
			return nil, fmt.Errorf("extract %s: %w", entry.Name, err)
		}
		result.record(dest)
	}

	return result, nil
}

func unpackRaw(r *reader.Reader, outputPath string) (*UnpackResult, error) {
	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return nil, err
	}

	result := &UnpackResult{ByExtension: make(map[string]int)}
	for _, entry := range r.ListEntries() {
		data, err := r.ReadEntryByIndex(entry.Index)
		if err != nil {
			return nil, err
		}

		dest := filepath.Join(outputPath, sniff.EntryName(entry.Index, data))
		if err := os.WriteFile(dest, data, 0644); err != nil {
			return nil, err
		}
		result.record(dest)
	}

	return result, nil
}

// entryDestination maps an archive path onto the output directory,
// refusing names that would escape it.
func entryDestination(outputPath, name string) (string, error) {
	rel := strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/")
	rel = path.Clean(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("entry name %q escapes the output directory", name)
	}
	return filepath.Join(outputPath, filepath.FromSlash(rel)), nil
}

func writeFile(dest string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
