package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rifftools/psarc/pkg/reader"
	"github.com/rifftools/psarc/pkg/sniff"
)

func newInfoCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <archive>",
		Short: "Show an archive's header and content summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			r, err := reader.Open(args[0], reader.Options{CacheSize: cfg.Read.CacheSize()})
			if err != nil {
				return err
			}
			defer r.Close()

			header := r.Header()

			tocState := "plain"
			if header.TocEncrypted() {
				tocState = "encrypted"
			}
			manifestState := "ok"
			if !r.NamesAvailable() {
				manifestState = "unreadable"
			}

			rows := [][]string{
				{"Magic", string(header.Magic[:])},
				{"Version", fmt.Sprintf("%d.%d", header.VersionMajor, header.VersionMinor)},
				{"Compression", string(header.CompressionTag[:])},
				{"TOC length", strconv.FormatUint(uint64(header.TocLength), 10)},
				{"TOC entry size", strconv.FormatUint(uint64(header.TocEntrySize), 10)},
				{"TOC entries", strconv.FormatUint(uint64(header.TocEntryCount), 10)},
				{"Block size", strconv.FormatUint(uint64(header.BlockSize), 10)},
				{"Flags", fmt.Sprintf("0x%08x (toc %s)", header.ArchiveFlags, tocState)},
				{"Archive size", strconv.FormatInt(r.ArchiveSize(), 10)},
				{"Content entries", strconv.Itoa(r.EntryCount())},
				{"Manifest", manifestState},
			}

			rows = append(rows, kindRows(contentKinds(r))...)

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Field", "Value"},
				rows,
				[]columnAlignment{alignLeft, alignLeft},
			))
			return nil
		},
	}

	return cmd
}

// contentKinds sniffs the leading bytes of every entry and tallies the
// detected kinds.
func contentKinds(r *reader.Reader) map[string]int {
	kinds := make(map[string]int)

	for _, entry := range r.ListEntries() {
		if entry.Length == 0 {
			continue
		}

		er, err := r.EntryReader(entry.Name)
		if err != nil {
			continue
		}

		prefix := make([]byte, 4)
		n, err := er.ReadAt(prefix, 0)
		if err != nil && n == 0 {
			continue
		}

		kinds[sniff.Detect(prefix[:n]).Ext()]++
	}
	return kinds
}

// kindRows lays the tally out as table rows in stable kind order.
func kindRows(kinds map[string]int) [][]string {
	sorted := make([]string, 0, len(kinds))
	for kind := range kinds {
		sorted = append(sorted, kind)
	}
	sort.Strings(sorted)

	rows := make([][]string, 0, len(sorted))
	for _, kind := range sorted {
		rows = append(rows, []string{fmt.Sprintf("Kind %s", kind), strconv.Itoa(kinds[kind])})
	}
	return rows
}
