package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"

	"github.com/INLOpen/chronicle/chronicle"
	"github.com/INLOpen/chronicle/compressors"
	"github.com/INLOpen/chronicle/config"
	"github.com/INLOpen/chronicle/core"
	"github.com/spf13/cobra"
)

func newDumpCmd(a *app) *cobra.Command {
	var output, compression, blockSize string
	cmd := &cobra.Command{
		Use:     "dump",
		Short:   "Export every visible excerpt to a compressed stream",
		Example: "chronicle dump --path /tmp/chr --output chr.dump --compression zstd",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("compression") {
				compression = a.cfg.Dump.Compression
			}
			c, err := compressors.ForName(compression)
			if err != nil {
				return err
			}
			block, err := config.ParseByteSize(blockSize)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			var f *os.File
			var bw *bufio.Writer
			if output != "-" {
				if f, err = os.Create(output); err != nil {
					return fmt.Errorf("failed to create dump file: %w", err)
				}
				defer f.Close()
				bw = bufio.NewWriter(f)
				w = bw
			}

			stats, err := dumpChronicle(a.chr, w, c, int(block))
			if err != nil {
				return err
			}
			if f != nil {
				if err := bw.Flush(); err != nil {
					return fmt.Errorf("failed to write dump file: %w", err)
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("failed to close dump file: %w", err)
				}
			}
			a.logger.Info("Dump finished.",
				"excerpts", stats.Excerpts,
				"blocks", stats.Blocks,
				"raw", config.FormatByteSize(stats.RawBytes),
				"compressed", config.FormatByteSize(stats.CompressedBytes),
				"compression", c.Type().String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "dump file, - for stdout")
	cmd.Flags().StringVar(&compression, "compression", "snappy", "none, snappy, lz4 or zstd")
	cmd.Flags().StringVar(&blockSize, "block-size", "64K", "raw bytes per compressed block")
	return cmd
}

// dumpChronicle writes every excerpt visible from the start of chr to w.
func dumpChronicle(chr *chronicle.Chronicle, w io.Writer, c core.Compressor, blockSize int) (compressors.FrameStats, error) {
	fw, err := compressors.NewFrameWriter(w, c, blockSize)
	if err != nil {
		return compressors.FrameStats{}, err
	}
	t := chr.NewTailer().ToStart()
	defer t.Close()
	for {
		ok, err := t.NextIndex()
		if err != nil {
			fw.Close()
			return fw.Stats(), fmt.Errorf("dump stopped after index %d: %w", t.Index(), err)
		}
		if !ok {
			break
		}
		if err := fw.Append(t.Index(), t.Buffer().Bytes()); err != nil {
			fw.Close()
			return fw.Stats(), err
		}
	}
	err = fw.Close()
	return fw.Stats(), err
}

func newReplayCmd(a *app) *cobra.Command {
	var input string
	var writerID int32
	cmd := &cobra.Command{
		Use:     "replay",
		Short:   "Append the excerpts of a dump, keeping their cycles",
		Example: "chronicle replay --path /tmp/copy --input chr.dump",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var r io.Reader = cmd.InOrStdin()
			if input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return fmt.Errorf("failed to open dump file: %w", err)
				}
				defer f.Close()
				r = f
			}
			var opts []chronicle.AppenderOption
			if writerID >= 0 {
				opts = append(opts, chronicle.WithWriterID(writerID))
			}
			n, err := replayDump(a.chr, r, opts...)
			if err != nil {
				return err
			}
			a.logger.Info("Replay finished.", "excerpts", n)
			fmt.Fprintf(cmd.OutOrStdout(), "%d excerpts replayed\n", n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "dump file, - for stdin")
	cmd.Flags().Int32Var(&writerID, "writer-id", -1, "fixed writer id; claimed when negative")
	return cmd
}

// replayDump appends every excerpt of the stream to chr in the cycle its
// source index belongs to. Source indices are not preserved.
func replayDump(chr *chronicle.Chronicle, r io.Reader, opts ...chronicle.AppenderOption) (int64, error) {
	fr, err := compressors.NewFrameReader(r)
	if err != nil {
		return 0, err
	}
	ap, err := chr.NewAppender(opts...)
	if err != nil {
		return 0, err
	}
	defer ap.Close()

	entriesBits := bits.TrailingZeros64(uint64(chr.Settings().EntriesPerCycle))
	var n int64
	for {
		index, payload, err := fr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, err
		}
		if err := ap.StartExcerptInCycle(len(payload), index>>entriesBits); err != nil {
			return n, fmt.Errorf("excerpt %d: %w", index, err)
		}
		ap.Buffer().WriteRaw(payload)
		if err := ap.Finish(); err != nil {
			return n, fmt.Errorf("excerpt %d: %w", index, err)
		}
		n++
	}
	return n, ap.Sync()
}
