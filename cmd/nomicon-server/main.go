package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gdennie/nomicon/internal/cli"
	"github.com/gdennie/nomicon/internal/config"
	"github.com/gdennie/nomicon/internal/engine"
	"github.com/gdennie/nomicon/internal/irload"
	"github.com/gdennie/nomicon/internal/server"
)

func main() {
	var (
		showVersion bool
		showHelp    bool
		jsonOutput  bool
		configFile  string
		addr        string
		workers     int
	)

	flag.BoolVar(&showVersion, "version", false, "show version information")
	flag.BoolVar(&showHelp, "help", false, "show help information")
	flag.BoolVar(&jsonOutput, "json", false, "print version information as JSON")
	flag.StringVar(&configFile, "config", "", "configuration file (default "+config.DefaultPath+" when present)")
	flag.StringVar(&addr, "addr", "", "listen address (overrides the configuration file)")
	flag.IntVar(&workers, "workers", 0, "concurrent function checks (0 = one per CPU)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Analysis daemon: IR documents in, verdict reports out.\n\n")
		fmt.Fprintf(os.Stderr, "ENDPOINTS:\n")
		fmt.Fprintf(os.Stderr, "  POST /analyze   submit one IR document\n")
		fmt.Fprintf(os.Stderr, "  GET  /healthz   liveness probe\n")
		fmt.Fprintf(os.Stderr, "  GET  /version   build information\n")
		fmt.Fprintf(os.Stderr, "  GET  /metrics   request counters, Prometheus text format\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s -addr :7311\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config ci.yaml\n", os.Args[0])
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		cli.PrintVersion("nomicon-server", jsonOutput)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		cli.ExitWithError("%v", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if err := cfg.Validate(); err != nil {
		cli.ExitWithError("%v", err)
	}

	loader := irload.NewLoader()
	if err := loader.SetConstraint(cfg.IR.FormatVersions); err != nil {
		cli.ExitWithError("%v", err)
	}
	eng := engine.New()
	eng.SetWorkers(cfg.Workers)
	eng.SetReportLimit(cfg.Limits.MaxReports)
	eng.SetVariancePasses(cfg.Limits.VariancePasses)

	srv := server.New(eng, loader)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server.HTTP3 {
		tlsCfg, err := server.LoadTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		if err != nil {
			log.Fatalf("nomicon-server: %v", err)
		}
		h3 := server.NewHTTP3Server(cfg.Server.Addr, tlsCfg, srv.Handler())
		bound, err := h3.Start()
		if err != nil {
			log.Fatalf("nomicon-server: %v", err)
		}
		defer h3.Stop()
		log.Printf("nomicon-server: HTTP/3 on udp %s", bound)
	}

	log.Printf("nomicon-server: listening on %s", cfg.Server.Addr)
	if err := srv.Run(ctx, cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("nomicon-server: %v", err)
	}
}

// loadConfig mirrors the checker command: an explicit -config path
// must exist, the default file is picked up only when present.
func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(config.DefaultPath); err == nil {
		return config.Load(config.DefaultPath)
	}
	return config.Default(), nil
}
