package main

import (
	"fmt"
	"time"

	"github.com/INLOpen/chronicle/chronicle"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newWriteCmd(a *app) *cobra.Command {
	var writers, records, capacity int
	cmd := &cobra.Command{
		Use:     "write",
		Short:   "Append ping records from concurrent writers",
		Example: "chronicle write --path /tmp/chr --writers 4 --records 1000000",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("writers") {
				writers = a.cfg.Writer.Writers
			}
			if !cmd.Flags().Changed("records") {
				records = a.cfg.Writer.Records
			}
			if !cmd.Flags().Changed("capacity") {
				capacity = a.cfg.Writer.Capacity
			}
			start := time.Now()
			if err := runWriters(a.chr, writers, records, capacity); err != nil {
				return err
			}
			elapsed := time.Since(start)
			total := writers * records
			a.logger.Info("Write finished.", "writers", writers, "records", total, "elapsed", elapsed)
			fmt.Fprintf(cmd.OutOrStdout(), "%d records in %v (%.0f records/s)\n",
				total, elapsed, float64(total)/elapsed.Seconds())
			return nil
		},
	}
	cmd.Flags().IntVarP(&writers, "writers", "w", 4, "number of concurrent writers")
	cmd.Flags().IntVarP(&records, "records", "n", 1000000, "records per writer")
	cmd.Flags().IntVar(&capacity, "capacity", 8192, "capacity reserved per excerpt")
	return cmd
}

// runWriters appends records pings from each of n appenders. Every appender
// claims its own writer id.
func runWriters(chr *chronicle.Chronicle, n, records, capacity int) error {
	var g errgroup.Group
	for w := 0; w < n; w++ {
		g.Go(func() error {
			ap, err := chr.NewAppender()
			if err != nil {
				return err
			}
			defer ap.Close()
			for i := 0; i < records; i++ {
				if err := appendPing(ap, capacity, int64(i)); err != nil {
					return fmt.Errorf("writer %d record %d: %w", ap.WriterID(), i, err)
				}
			}
			return ap.Sync()
		})
	}
	return g.Wait()
}
