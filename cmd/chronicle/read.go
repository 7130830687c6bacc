package main

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/INLOpen/chronicle/chronicle"
	"github.com/INLOpen/chronicle/config"
	"github.com/caio/go-tdigest/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newReadCmd(a *app) *cobra.Command {
	var readers, writers, records int
	var poll, timeout string
	cmd := &cobra.Command{
		Use:     "read",
		Short:   "Tail ping records and check every writer's sequence",
		Example: "chronicle read --path /tmp/chr --readers 4 --writers 4 --records 1000000",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("readers") {
				readers = a.cfg.Reader.Readers
			}
			if !cmd.Flags().Changed("writers") {
				writers = a.cfg.Writer.Writers
			}
			if !cmd.Flags().Changed("records") {
				records = a.cfg.Writer.Records
			}
			if !cmd.Flags().Changed("poll-interval") {
				poll = a.cfg.Reader.PollInterval
			}
			if !cmd.Flags().Changed("timeout") {
				timeout = a.cfg.Reader.Timeout
			}
			opts := readOptions{
				want:    int64(writers) * int64(records),
				poll:    config.ParseDuration(poll, 0, a.logger),
				timeout: config.ParseDuration(timeout, time.Minute, a.logger),
			}
			return runReaders(cmd.Context(), a, readers, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&readers, "readers", "r", 1, "number of concurrent readers")
	cmd.Flags().IntVarP(&writers, "writers", "w", 4, "number of writers that produced the records")
	cmd.Flags().IntVarP(&records, "records", "n", 1000000, "records per writer")
	cmd.Flags().StringVar(&poll, "poll-interval", "0s", "sleep between polls when nothing is new; 0 spins")
	cmd.Flags().StringVar(&timeout, "timeout", "60s", "give up after this long")
	return cmd
}

type readOptions struct {
	want    int64
	poll    time.Duration
	timeout time.Duration
}

type readResult struct {
	count   int64
	elapsed time.Duration
	latency *tdigest.TDigest
}

func runReaders(ctx context.Context, a *app, n int, opts readOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	results := make([]readResult, n)
	g, ctx := errgroup.WithContext(ctx)
	for r := 0; r < n; r++ {
		g.Go(func() error {
			res, err := readPings(ctx, a.chr, opts)
			results[r] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for r, res := range results {
		a.logger.Info("Reader finished.", "reader", r, "records", res.count, "elapsed", res.elapsed)
		fmt.Fprintf(out, "reader %d: %d records in %v (%.0f records/s), latency p50=%v p99=%v p99.9=%v\n",
			r, res.count, res.elapsed, float64(res.count)/res.elapsed.Seconds(),
			quantile(res.latency, 0.5), quantile(res.latency, 0.99), quantile(res.latency, 0.999))
	}
	return nil
}

func quantile(td *tdigest.TDigest, q float64) time.Duration {
	if td == nil || td.Count() == 0 {
		return 0
	}
	return time.Duration(td.Quantile(q))
}

// readPings tails from the start until want records are seen. Each writer's
// sequence must start at zero and increase by one.
func readPings(ctx context.Context, chr *chronicle.Chronicle, opts readOptions) (readResult, error) {
	td, err := tdigest.New()
	if err != nil {
		return readResult{}, fmt.Errorf("tdigest.New failed: %w", err)
	}
	res := readResult{latency: td}
	start := time.Now()

	t := chr.NewTailer().ToStart()
	defer t.Close()

	next := make(map[int32]int64)
	for res.count < opts.want {
		ok, err := t.NextIndex()
		if err != nil {
			return res, err
		}
		if !ok {
			if err := ctx.Err(); err != nil {
				return res, fmt.Errorf("read %d of %d records: %w", res.count, opts.want, err)
			}
			if opts.poll > 0 {
				time.Sleep(opts.poll)
			} else {
				runtime.Gosched()
			}
			continue
		}
		rec, err := readPing(t.Buffer())
		if err != nil {
			return res, fmt.Errorf("index %d: %w", t.Index(), err)
		}
		if err := rec.check(); err != nil {
			return res, fmt.Errorf("index %d: %w", t.Index(), err)
		}
		if want := next[rec.Writer]; rec.Seq != want {
			return res, fmt.Errorf("index %d: writer %d sequence %d, want %d", t.Index(), rec.Writer, rec.Seq, want)
		}
		next[rec.Writer]++
		if err := td.Add(float64(time.Now().UnixNano() - rec.Nanos)); err != nil {
			return res, fmt.Errorf("index %d: failed to record latency: %w", t.Index(), err)
		}
		res.count++
	}
	res.elapsed = time.Since(start)
	return res, nil
}
