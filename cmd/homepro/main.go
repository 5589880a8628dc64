package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/homepro-connect/internal/apierr"
	"github.com/wolfman30/homepro-connect/internal/app"
	"github.com/wolfman30/homepro-connect/internal/config"
	"github.com/wolfman30/homepro-connect/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("ignoring .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, config.Load()))
}

// run executes one subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, cfg *config.Config, opts ...app.Option) int {
	global := flag.NewFlagSet("homepro", flag.ContinueOnError)
	global.SetOutput(stderr)
	metricsAddr := global.String("metrics-addr", "", "serve Prometheus metrics on this address")
	global.Usage = func() { usage(stderr) }
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	args = global.Args()

	if len(args) == 0 || args[0] == "help" {
		usage(stdout)
		if len(args) == 0 {
			return 2
		}
		return 0
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}

	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Writer: stderr})
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		cfg.MetricsEnabled = true
		opts = append(opts, app.WithRegisterer(reg))
		stopMetrics := serveMetrics(*metricsAddr, reg, logger)
		defer stopMetrics()
	}
	a, err := app.New(ctx, cfg, logger, opts...)
	if err != nil {
		fmt.Fprintln(stderr, apierr.UserMessage(err))
		return 1
	}
	defer func() { _ = a.Close() }()

	env := &cmdEnv{app: a, in: newLineReader(stdin), out: stdout, errOut: stderr}
	if err := cmd.run(ctx, env, args[1:]); err != nil {
		fmt.Fprintln(stderr, apierr.UserMessage(err))
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: homepro [-metrics-addr addr] <command> [flags]")
	fmt.Fprintln(w)
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-14s %s\n", name, commands[name].help)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics: server stopped", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
