// Package main provides the zombiecheck CLI entrypoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lukemcguire/zombiecheck/crawler"
	"github.com/lukemcguire/zombiecheck/discover"
	"github.com/lukemcguire/zombiecheck/mark"
	"github.com/lukemcguire/zombiecheck/probe"
	"github.com/lukemcguire/zombiecheck/result"
	"github.com/lukemcguire/zombiecheck/tui"
)

// Exit codes.
const (
	exitOK     = 0
	exitBroken = 1
	exitError  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if err := loadDotEnv(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	cfg, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	logger, closeLog, err := newLogger(cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer closeLog()

	res, err := check(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("check failed")
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	if res == nil {
		return exitOK
	}

	if err := writeReport(cfg, res, stdout); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	if len(res.BrokenLinks) > 0 {
		return exitBroken
	}
	return exitOK
}

// newLogger builds the process logger. In TUI mode logs only go to the log
// file, since anything on stderr would corrupt the screen.
func newLogger(cfg cliConfig, stderr io.Writer) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Nop(), func() {}, fmt.Errorf("parse log level: %w", err)
	}

	var out io.Writer = io.Discard
	closeFn := func() {}
	switch {
	case cfg.LogFile != "":
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), closeFn, fmt.Errorf("open log file: %w", err)
		}
		out = file
		closeFn = func() { _ = file.Close() }
	case cfg.NoTUI:
		out = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.TimeOnly}
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return logger, closeFn, nil
}

// check wires the prober, controller and discovery, runs the UI or the
// plain runner, and returns the last run summary. A nil summary means no
// run completed.
func check(ctx context.Context, cfg cliConfig, logger zerolog.Logger) (*result.Result, error) {
	prober := probe.NewHTTPProber(probe.Options{
		UserAgent: cfg.UserAgent,
		RateLimit: cfg.RateLimit,
		Insecure:  cfg.Insecure,
	})

	src, err := cfg.source(prober.Client())
	if err != nil {
		return nil, err
	}

	uiCtx, uiCancel := context.WithCancel(ctx)
	defer uiCancel()

	events := make(chan crawler.RunEvent, 64)
	marks := mark.NewSet()
	ctrlCfg := crawler.Config{
		Concurrency:    cfg.Concurrency,
		RequestTimeout: cfg.Timeout,
		RetryPolicy:    cfg.retryPolicy(),
		Logger:         &logger,
		Marker:         marks,
	}
	if !cfg.NoTUI {
		ctrlCfg.Notifier = crawler.ChannelNotifier(uiCtx, events)
	}
	ctrl := crawler.New(ctrlCfg, prober)

	tracker, err := discover.NewTracker(0, 0)
	if err != nil {
		return nil, fmt.Errorf("create link tracker: %w", err)
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			logger.Warn().Err(err).Msg("close link tracker")
		}
	}()

	var robots discover.Filter
	if cfg.Robots {
		robots = discover.NewRobotsChecker(prober.Client(), cfg.UserAgent, &logger).Filter
	}
	var sameDomain discover.Filter
	if cfg.SameDomain {
		sameDomain = discover.SameDomain(cfg.scopeHost())
	}
	filter := discover.Chain(sameDomain, robots)
	watcher := discover.NewWatcher(src, ctrl, tracker, discover.WatchOptions{
		Interval: cfg.Watch,
		Filter:   filter,
		Logger:   &logger,
	})

	start := func(ctx context.Context) error {
		links, err := discover.Discover(ctx, src)
		if err != nil {
			return err
		}
		if filter != nil {
			links = filter(ctx, links)
		}
		logger.Info().Str("source", src.String()).Int("links", len(links)).Msg("links discovered")
		_, err = ctrl.Start(ctx, watcher.Seed(links))
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	watchCtx, stopWatch := context.WithCancel(gctx)
	defer stopWatch()

	if cfg.Watch > 0 {
		g.Go(func() error { return watcher.Run(watchCtx) })
	}

	var res *result.Result
	g.Go(func() error {
		defer stopWatch()
		var err error
		if cfg.NoTUI {
			res, err = runPlain(gctx, ctrl, start, logger)
		} else {
			res, err = runTUI(uiCtx, uiCancel, ctrl, marks, start, events, cfg.KeepOpen)
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// runPlain performs a single run without the UI. An interrupt aborts the
// run and returns its partial summary.
func runPlain(ctx context.Context, ctrl *crawler.Controller, start tui.StartFunc, logger zerolog.Logger) (*result.Result, error) {
	if err := start(ctx); err != nil {
		return nil, err
	}

	res, err := ctrl.Wait(ctx)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, context.Canceled) {
		return nil, err
	}

	state := ctrl.Snapshot()
	logger.Warn().
		Str("run_id", state.RunID).
		Int("checked", state.Checked).
		Int("total", state.Total).
		Int("active", state.Active).
		Msg("interrupted, aborting run")
	ctrl.Abort()
	return ctrl.Wait(context.Background())
}

// runTUI drives runs from the interactive UI and returns the last summary.
func runTUI(ctx context.Context, cancel context.CancelFunc, ctrl *crawler.Controller, marks *mark.Set, start tui.StartFunc, events <-chan crawler.RunEvent, keepOpen bool) (*result.Result, error) {
	model := tui.NewModel(ctx, cancel, tui.Options{
		Start:    start,
		Abort:    ctrl.Abort,
		Events:   events,
		KeepOpen: keepOpen,
		Marked:   marks.Broken,
	})

	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return nil, fmt.Errorf("run ui: %w", err)
	}
	cancel()

	finalModel, ok := final.(tui.Model)
	if !ok {
		return nil, fmt.Errorf("unexpected ui model %T", final)
	}
	if err := finalModel.Err(); err != nil {
		return nil, err
	}
	if res := finalModel.GetResult(); res != nil {
		return res, nil
	}

	// Quit before the run settled: abandon it and report what finished.
	ctrl.Abort()
	res, err := ctrl.Wait(context.Background())
	if errors.Is(err, crawler.ErrNoRun) {
		return nil, nil
	}
	return res, err
}

// writeReport writes the summary in the configured format. Text output in
// TUI mode has already been rendered on screen, so it is only written when
// an output file is set.
func writeReport(cfg cliConfig, res *result.Result, stdout io.Writer) error {
	out := stdout
	if cfg.Output != "" {
		file, err := os.Create(cfg.Output)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer func() { _ = file.Close() }()
		out = file
	} else if cfg.Format == "text" && !cfg.NoTUI {
		return nil
	}

	switch cfg.Format {
	case "json":
		return result.WriteJSON(out, res)
	case "csv":
		return result.WriteCSV(out, res.BrokenLinks)
	default:
		result.PrintResults(out, res)
		return nil
	}
}
