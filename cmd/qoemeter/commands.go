package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"qoemeter/internal/app"
	"qoemeter/internal/config"
	"qoemeter/internal/metrics"
	"qoemeter/internal/qoe"
	logx "qoemeter/pkg/logx"
)

func runServe(c *cli.Context) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.New(c.String("config"))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	var reason app.StopReason
	select {
	case sig := <-sigs:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func readSnapshot(path string) (metrics.Snapshot, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return metrics.Snapshot{}, err
		}
		defer f.Close()
		r = f
	}
	var snap metrics.Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return metrics.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	snap.Normalize()
	return snap, nil
}

func runScore(c *cli.Context) error {
	snap, err := readSnapshot(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	log := logx.Nop()
	if c.Bool("trace") {
		log = logx.NewConsole("debug")
	}
	tree := qoe.NewScorer(log).Calculate(snap)

	out := c.App.Writer
	if c.Bool("display") {
		return writeSummary(out, tree)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(tree)
}

func writeSummary(w io.Writer, tree qoe.Tree) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tSCORE\tCOVERAGE")
	for _, l := range qoe.Summary(tree) {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Name, l.Score, l.Coverage)
	}
	return tw.Flush()
}

func runHistory(c *cli.Context) error {
	t, closeStore, err := app.OpenTracker(c.Context, c.String("config"), logx.NewConsole("warn"))
	if err != nil {
		return err
	}
	defer closeStore()

	hist := t.History()
	out := c.App.Writer
	if c.Bool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(hist)
	}
	if len(hist) == 0 {
		fmt.Fprintln(out, "no history entries")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSAVED\tOVERALL\tVOICE\tDATA")
	for _, e := range hist {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			time.UnixMilli(e.Timestamp).Format(time.RFC3339),
			qoe.Percent(e.Scores.Overall.Score),
			qoe.Percent(e.Scores.Voice.Score),
			qoe.Percent(e.Scores.Data.Score),
		)
	}
	return tw.Flush()
}

func runExport(c *cli.Context) error {
	format := strings.ToLower(c.String("format"))
	if format != "json" && format != "csv" {
		return cli.Exit(fmt.Sprintf("unknown format %q (json|csv)", format), 1)
	}
	t, closeStore, err := app.OpenTracker(c.Context, c.String("config"), logx.NewConsole("warn"))
	if err != nil {
		return err
	}
	defer closeStore()

	out := c.App.Writer
	if p := c.String("out"); p != "" {
		f, err := os.Create(p)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	exp := t.Export()
	if format == "csv" {
		return exp.WriteCSV(out)
	}
	return exp.WriteJSON(out)
}

func runValidate(c *cli.Context) error {
	var errs []error
	if err := qoe.ValidateTables(); err != nil {
		errs = append(errs, fmt.Errorf("threshold tables: %w", err))
	}
	if p := c.String("config"); p != "" {
		if _, err := config.NewManager(p).Load(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Fprintln(c.App.Writer, "ok")
	return nil
}

func runVersion(c *cli.Context) error {
	fmt.Fprintf(c.App.Writer, "%s %s\n", appName, version)
	fmt.Fprintf(c.App.Writer, "go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return nil
}
