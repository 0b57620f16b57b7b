// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"procstats/internal/config"
	"procstats/internal/diagnostics"
	"procstats/internal/dump"
	"procstats/internal/global"
	"procstats/internal/logger"
)

var version = "0.1.0"

// processStart anchors nowMillis: its wall-clock reading supplies the epoch
// offset, and time.Since measures elapsed time on the monotonic clock.
var processStart = time.Now()

func nowMillis() int64 { return processStart.UnixMilli() + time.Since(processStart).Milliseconds() }

func main() {
	var (
		listenAddress = flag.String("web.listen-address", "", "Address to listen on for /metrics (overrides config).")
		metricsPath   = flag.String("web.telemetry-path", "", "Path under which to expose metrics (overrides config).")
		configPath    = flag.String("config", "", "Path to configuration file (optional).")

		checkin   = flag.Bool("checkin", false, "Dump a line-oriented checkin report and exit.")
		csv       = flag.Bool("csv", false, "Dump a tab-separated CSV report and exit.")
		csvScreen = flag.String("csv-screen", "", "Screen states for --csv: comma-separated to break out, '+' to sum.")
		csvMem    = flag.String("csv-mem", "", "Mem-factor states for --csv: comma-separated to break out, '+' to sum.")
		csvProc   = flag.String("csv-proc", "", "Process states for --csv: comma-separated to break out, '+' to sum.")
		reset     = flag.Bool("reset", false, "Discard all accumulated statistics before reporting.")
		write     = flag.Bool("write", false, "With a one-shot report, also force a synchronous write to disk.")
		all       = flag.Bool("a", false, "Dump every package, ignoring a trailing package-name filter.")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [package-name]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "With no dump flags, runs as a long-lived process exposing /metrics.\n")
		fmt.Fprintf(os.Stderr, "With --checkin, --csv or --reset, performs a one-shot report against\n")
		fmt.Fprintf(os.Stderr, "the persisted statistics and exits.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *listenAddress != "" {
		cfg.Server.ListenAddress = *listenAddress
	}
	if *metricsPath != "" {
		cfg.Server.MetricsPath = *metricsPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.ConfigureLogging(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure loggers: %v\n", err)
		os.Exit(1)
	}

	pkgFilter := ""
	if !*all && flag.NArg() > 0 {
		pkgFilter = flag.Arg(0)
	}

	now := nowMillis()
	g, err := global.New(cfg.Storage.BaseDir, cfg.Storage.WriteInterval.Milliseconds(), cfg.Storage.PSSThrottle.Milliseconds(), now)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize global state")
	}
	g.ReadFromDisk(now)

	if *checkin || *csv || *reset {
		runDumpAndExit(g, now, pkgFilter, *checkin, *csv, *csvScreen, *csvMem, *csvProc, *reset, *write)
		return
	}

	runServer(g, cfg)
}

func runDumpAndExit(g *global.GlobalState, now int64, pkgFilter string, checkin, csvRequested bool, csvScreen, csvMem, csvProc string, reset, write bool) {
	if reset {
		g.Reset(now)
	}

	switch {
	case checkin:
		dump.Checkin(os.Stdout, g, now, pkgFilter)
	case csvRequested:
		screen, mem, proc, err := parseCSVDims(csvScreen, csvMem, csvProc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		dump.CSV(os.Stdout, g, now, screen, mem, proc, pkgFilter)
	default:
		dump.Human(os.Stdout, g, now, pkgFilter)
	}

	if write || reset {
		if err := g.WriteSync(now); err != nil {
			fmt.Fprintf(os.Stderr, "write failed: %v\n", err)
		}
	}
	g.Shutdown()
}

func parseCSVDims(screenSpec, memSpec, procSpec string) (screen, mem, proc dump.DimSpec, err error) {
	screen = dump.DefaultScreenDim()
	mem = dump.DefaultMemDim()
	proc = dump.DefaultProcDim()

	if screenSpec != "" {
		if screen, err = dump.ParseDimSpec(screenSpec, dump.ScreenNamesCSV[:]); err != nil {
			return
		}
	}
	if memSpec != "" {
		if mem, err = dump.ParseDimSpec(memSpec, dump.MemNamesCSV[:]); err != nil {
			return
		}
	}
	if procSpec != "" {
		if proc, err = dump.ParseDimSpec(procSpec, dump.StateNamesCSV[:]); err != nil {
			return
		}
	}
	return
}

// runServer runs the long-lived mode: an HTTP server exposing /metrics over
// the current accumulated state, and a ticker that persists it periodically.
// There is no event source wired into this binary (see design notes: the
// process-manager/package-manager integration that would feed
// get_process/set_state calls is explicitly out of scope), so the only
// state mutation this mode performs on its own is the periodic write.
func runServer(g *global.GlobalState, cfg *config.AppConfig) {
	var stateMu sync.Mutex

	reg := prometheus.NewRegistry()
	reg.MustRegister(diagnostics.New(g, &stateMu))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	var srv *http.Server
	if cfg.Server.ListenAddress != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Server.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.Server.ListenAddress, Handler: mux}
		go func() {
			log.Info().Str("address", cfg.Server.ListenAddress).Str("path", cfg.Server.MetricsPath).Msg("starting metrics server")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("metrics server failed")
			}
		}()
	}

	log.Info().Str("version", version).Str("base_dir", cfg.Storage.BaseDir).Msg("procstats is running")

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stateMu.Lock()
			now := nowMillis()
			if g.ShouldWriteNow(now) {
				if err := g.WriteAsync(now); err != nil {
					log.Error().Err(err).Msg("periodic write failed")
				}
			}
			stateMu.Unlock()
		case <-ctx.Done():
			log.Info().Msg("received shutdown signal, flushing state")
			stateMu.Lock()
			now := nowMillis()
			if err := g.WriteSync(now); err != nil {
				log.Error().Err(err).Msg("final write failed")
			}
			g.Shutdown()
			stateMu.Unlock()

			if srv != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("error shutting down metrics server")
				}
			}
			log.Info().Msg("procstats stopped gracefully")
			return
		}
	}
}
