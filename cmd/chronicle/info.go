package main

import (
	"fmt"
	"io"

	"github.com/INLOpen/chronicle/chronicle"
	"github.com/INLOpen/chronicle/config"
	"github.com/INLOpen/chronicle/server"
	"github.com/INLOpen/chronicle/sys"
	"github.com/spf13/cobra"
)

func newInfoCmd(a *app) *cobra.Command {
	var writers int
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the layout, cycle range, last index and free disk space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("writers") {
				writers = a.cfg.Writer.Writers
			}
			return printInfo(cmd.OutOrStdout(), a.chr, writers)
		},
	}
	cmd.Flags().IntVarP(&writers, "writers", "w", 4, "writers to budget disk space for")
	return cmd
}

func printInfo(w io.Writer, chr *chronicle.Chronicle, writers int) error {
	s := chr.Settings()
	fmt.Fprintln(w, s.String())

	first, ok := chr.Index().FindFirstCycle()
	last, _ := chr.Index().FindLastCycle()
	if !ok {
		fmt.Fprintln(w, "cycles: none")
	} else {
		fmt.Fprintf(w, "cycles: %d (%s) .. %d (%s)\n",
			first, s.Formatter.DateFromCycle(first), last, s.Formatter.DateFromCycle(last))
	}
	lastIndex, err := chr.LastIndex()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "last index: %d\n", lastIndex)

	if err := sys.MkdirAll(s.Path, 0755); err != nil {
		return err
	}
	du, err := server.DiskUsage(s.Path)
	if err != nil {
		return fmt.Errorf("failed to read disk usage of %s: %w", s.Path, err)
	}
	// A cycle change maps one index file plus one data file per writer.
	need := s.IndexBlockSize + int64(writers)*s.DataBlockSize
	fmt.Fprintf(w, "disk: %s free of %s (%.1f%% used), next cycle needs up to %s\n",
		config.FormatByteSize(int64(du.Free)), config.FormatByteSize(int64(du.Total)), du.UsedPercent,
		config.FormatByteSize(need))
	if int64(du.Free) < need {
		fmt.Fprintln(w, "warning: free space is below one block per writer")
	}
	return nil
}
