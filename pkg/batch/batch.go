// Package batch extracts collections of archives concurrently. Each
// archive lands in its own directory under a shared output root, and a
// damaged archive never stops the rest of the collection.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/rifftools/psarc/pkg/psarc"
)

type Options struct {
	// Workers bounds how many archives extract at once. Zero picks 4.
	Workers int

	// OutputRoot is the directory that receives one subdirectory per
	// archive, named after the archive file.
	OutputRoot string

	// SkipExisting leaves archives alone when their output directory is
	// already present, so interrupted runs can resume.
	SkipExisting bool

	// Raw recovers entries under stand-in names instead of manifest
	// paths.
	Raw bool

	// RepackDir, when set, rebuilds each processed directory into an
	// archive of the same file name under this directory.
	RepackDir string
}

// ProcessFunc runs between an archive's extraction and its repack,
// with the extracted directory as its working set. A nil ProcessFunc
// extracts without processing.
type ProcessFunc func(ctx context.Context, extractedDir string) error

// Result reports the outcome for one archive.
type Result struct {
	ArchivePath string
	OutputPath  string
	RepackPath  string
	Skipped     bool
	Err         error
}

// Failed counts results that carry an error.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Process extracts every archive in the list, runs fn over each
// extracted directory, and optionally repacks the result. Results come
// back in input order; per-archive failures are recorded, not
// returned.
func Process(ctx context.Context, archives []string, opts Options, fn ProcessFunc) ([]Result, error) {
	if len(archives) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(opts.OutputRoot, 0755); err != nil {
		return nil, err
	}
	if opts.RepackDir != "" {
		if err := os.MkdirAll(opts.RepackDir, 0755); err != nil {
			return nil, err
		}
	}

	outputs := outputDirs(archives, opts.OutputRoot)

	maxConcurrent := opts.Workers
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if len(archives) < maxConcurrent {
		maxConcurrent = len(archives)
	}

	type itemResult struct {
		result Result
		order  int
	}

	resultsChan := make(chan itemResult, len(archives))
	semaphore := make(chan struct{}, maxConcurrent)

	var wg sync.WaitGroup

	for i, archivePath := range archives {
		wg.Add(1)
		go func(i int, archivePath string, outputPath string) {
			defer wg.Done()

			result := Result{ArchivePath: archivePath, OutputPath: outputPath}

			if err := ctx.Err(); err != nil {
				result.Err = err
				resultsChan <- itemResult{result: result, order: i}
				return
			}

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				result.Err = ctx.Err()
				resultsChan <- itemResult{result: result, order: i}
				return
			}

			if opts.SkipExisting {
				if _, err := os.Stat(outputPath); err == nil {
					log.Info().Msgf("Skipping %d/%d: %s (output exists)", i+1, len(archives), archivePath)
					result.Skipped = true
					resultsChan <- itemResult{result: result, order: i}
					return
				}
			}

			// Another process already working on this archive skips it
			// the same way an existing output does.
			fileLock := flock.New(fmt.Sprintf("%s.lock", archivePath))
			if locked, lockErr := fileLock.TryLock(); lockErr == nil && !locked {
				log.Info().Msgf("Skipping %d/%d: %s (locked by another process)", i+1, len(archives), archivePath)
				result.Skipped = true
				resultsChan <- itemResult{result: result, order: i}
				return
			} else if locked {
				defer os.Remove(fileLock.Path())
				defer fileLock.Unlock()
			}

			log.Info().Msgf("Extracting %d/%d: %s", i+1, len(archives), archivePath)

			unpackOpts := psarc.UnpackOptions{InputFile: archivePath, OutputPath: outputPath}
			var err error
			if opts.Raw {
				_, err = psarc.UnpackRaw(unpackOpts)
			} else {
				_, err = psarc.Unpack(unpackOpts)
			}
			if err != nil {
				log.Error().Err(err).Msgf("Failed to extract %s", archivePath)
				result.Err = fmt.Errorf("extract %s: %w", archivePath, err)
				resultsChan <- itemResult{result: result, order: i}
				return
			}

			if fn != nil {
				if err := fn(ctx, outputPath); err != nil {
					log.Error().Err(err).Msgf("Failed to process %s", outputPath)
					result.Err = fmt.Errorf("process %s: %w", archivePath, err)
					resultsChan <- itemResult{result: result, order: i}
					return
				}
			}

			if opts.RepackDir != "" {
				repackPath := filepath.Join(opts.RepackDir, filepath.Base(archivePath))
				if err := psarc.Pack(psarc.PackOptions{InputPath: outputPath, OutputPath: repackPath}); err != nil {
					log.Error().Err(err).Msgf("Failed to repack %s", archivePath)
					result.Err = fmt.Errorf("repack %s: %w", archivePath, err)
				} else {
					result.RepackPath = repackPath
				}
			}

			resultsChan <- itemResult{result: result, order: i}
		}(i, archivePath, outputs[i])
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make([]Result, len(archives))
	for item := range resultsChan {
		results[item.order] = item.result
	}

	log.Info().Msgf("Processed %d archives (%d failed)", len(archives), Failed(results))
	return results, nil
}

// outputDirs maps each archive to a directory named after its file
// stem, suffixing repeats so two archives never share a destination.
func outputDirs(archives []string, outputRoot string) []string {
	used := make(map[string]int, len(archives))

	outputs := make([]string, 0, len(archives))
	for _, archivePath := range archives {
		base := filepath.Base(archivePath)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		if stem == "" {
			stem = base
		}

		used[stem]++
		if n := used[stem]; n > 1 {
			stem = fmt.Sprintf("%s_%d", stem, n)
		}

		outputs = append(outputs, filepath.Join(outputRoot, stem))
	}
	return outputs
}

// CollectArchives finds archive files under root in lexical order.
func CollectArchives(root string) ([]string, error) {
	var archives []string

	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(osPath string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			if strings.EqualFold(filepath.Ext(osPath), ".psarc") {
				archives = append(archives, osPath)
			}
			return nil
		},
		Unsorted: false,
	})
	if err != nil {
		return nil, err
	}

	return archives, nil
}
