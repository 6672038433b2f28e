package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ledgerwatch/snapshotter/pkg/snapshot"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot/container"
)

var (
	inspectFile   string
	inspectVerify bool

	inspectCmd = &cobra.Command{
		Use:   "inspect",
		Short: "Print the manifest of a snapshot and optionally verify its chunks",
		RunE:  runInspect,
	}
)

func init() {
	inspectCmd.Flags().StringVar(&inspectFile, "file", "", "snapshot file or loose snapshot directory")
	_ = inspectCmd.MarkFlagRequired("file")
	inspectCmd.Flags().BoolVar(&inspectVerify, "verify", false, "decompress every chunk and check its hash")
}

func runInspect(cmd *cobra.Command, _ []string) error {
	r, err := container.Open(inspectFile)
	if err != nil {
		return err
	}
	defer r.Close()

	m := r.Manifest()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "manifest      %x\n", m.Hash())
	fmt.Fprintf(out, "version       %d\n", m.Version)
	fmt.Fprintf(out, "block         %d %x\n", m.BlockNumber, m.BlockHash)
	fmt.Fprintf(out, "state root    %x\n", m.StateRoot)
	fmt.Fprintf(out, "state chunks  %d\n", len(m.StateHashes))
	fmt.Fprintf(out, "block chunks  %d\n", len(m.BlockHashes))

	var compressed, raw int
	for _, hash := range m.Chunks() {
		chunk, err := r.Chunk(hash)
		if err != nil {
			return err
		}
		compressed += len(chunk)
		if !inspectVerify {
			continue
		}
		b, err := snapshot.OpenChunk(hash, chunk, 0)
		if err != nil {
			return errors.Wrapf(err, "chunk %x", hash)
		}
		raw += len(b)
	}
	fmt.Fprintf(out, "size          %d bytes compressed\n", compressed)
	if inspectVerify {
		fmt.Fprintf(out, "verified      %d chunks, %d bytes uncompressed\n", m.TotalChunks(), raw)
	}
	return nil
}
