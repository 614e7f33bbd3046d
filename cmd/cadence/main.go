package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"cadence/internal/app"
	"cadence/internal/config"
)

func main() {
	var (
		cfgPath string
		check   bool
		next    int
		history int
		job     string
	)
	flag.StringVar(&cfgPath, "config", "./cadence.yaml", "path to config (yaml or json)")
	flag.BoolVar(&check, "check", false, "validate the config, print upcoming runs and exit")
	flag.IntVar(&next, "next", 3, "number of upcoming runs printed by -check")
	flag.IntVar(&history, "history", 0, "print the last N recorded runs and exit")
	flag.StringVar(&job, "job", "", "limit -history to one job")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if check || history > 0 {
		if err := inspect(ctx, cfgPath, check, next, history, job); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		return
	}

	a, err := app.New(ctx, cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)

	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func inspect(ctx context.Context, cfgPath string, check bool, next, history int, job string) error {
	cfg, err := config.NewManager(cfgPath).Load(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if check {
		jobs, err := app.Preview(cfg, time.Now(), next)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "JOB\tRULE\tNEXT RUNS")
		for _, p := range jobs {
			runs := make([]string, 0, len(p.Next))
			for _, t := range p.Next {
				runs = append(runs, t.Format("2006-01-02 15:04:05 MST"))
			}
			fmt.Fprintf(w, "%s\t%s\t%v\n", p.Name, p.Rule, runs)
		}
		fmt.Fprintf(w, "config ok: %d enabled jobs\n", len(jobs))
	}

	if history > 0 {
		runs, err := app.History(ctx, cfg, job, history)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "JOB\tDUE\tTOOK\tRESULT")
		for _, r := range runs {
			result := "ok"
			if !r.OK {
				result = r.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Job, r.Due.Format(time.RFC3339), r.Duration.Round(time.Millisecond), result)
		}
	}
	return nil
}
