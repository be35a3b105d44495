package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/gdennie/nomicon/internal/cli"
	"github.com/gdennie/nomicon/internal/config"
	"github.com/gdennie/nomicon/internal/engine"
	"github.com/gdennie/nomicon/internal/irload"
	"github.com/gdennie/nomicon/internal/report"
	"github.com/gdennie/nomicon/internal/term"
	"github.com/gdennie/nomicon/internal/watch"
)

func main() {
	var (
		showVersion bool
		showHelp    bool
		jsonOutput  bool
		configFile  string
		format      string
		color       string
		workers     int
		maxReports  int
		watchMode   bool
	)

	flag.BoolVar(&showVersion, "version", false, "show version information")
	flag.BoolVar(&showHelp, "help", false, "show help information")
	flag.BoolVar(&jsonOutput, "json", false, "shorthand for -format json")
	flag.StringVar(&configFile, "config", "", "configuration file (default "+config.DefaultPath+" when present)")
	flag.StringVar(&format, "format", "", "output format: text, json or table")
	flag.StringVar(&color, "color", "", "color mode: auto, always or never")
	flag.IntVar(&workers, "workers", 0, "concurrent function checks (0 = one per CPU)")
	flag.IntVar(&maxReports, "max-reports", 0, "cap findings per function (0 = unlimited)")
	flag.BoolVar(&watchMode, "watch", false, "re-run the analysis when the document changes")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] DOCUMENT\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Reference-lifetime and variance analysis over IR documents.\n")
		fmt.Fprintf(os.Stderr, "Exits 0 when every function is accepted, 1 otherwise.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s module.json                  # Analyze one document\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -format json module.json     # Machine-readable report\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -watch module.json           # Re-analyze on every save\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config ci.yaml module.json  # Explicit configuration\n", os.Args[0])
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		cli.PrintVersion("nomicon", jsonOutput)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		cli.ExitWithError("%v", err)
	}
	if format != "" {
		cfg.Format = format
	}
	if jsonOutput {
		cfg.Format = "json"
	}
	if color != "" {
		cfg.Color = color
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if maxReports > 0 {
		cfg.Limits.MaxReports = maxReports
	}
	if err := cfg.Validate(); err != nil {
		cli.ExitWithError("%v", err)
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	loader := irload.NewLoader()
	if err := loader.SetConstraint(cfg.IR.FormatVersions); err != nil {
		cli.ExitWithError("%v", err)
	}
	eng := engine.New()
	eng.SetWorkers(cfg.Workers)
	eng.SetReportLimit(cfg.Limits.MaxReports)
	eng.SetVariancePasses(cfg.Limits.VariancePasses)

	if watchMode {
		runWatch(eng, loader, cfg, path)
		return
	}

	accepted, err := runOnce(eng, loader, cfg, path)
	if err != nil {
		cli.ExitWithError("%v", err)
	}
	if !accepted {
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration: an explicit -config
// path must exist, the default file is picked up only when present.
func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(config.DefaultPath); err == nil {
		return config.Load(config.DefaultPath)
	}
	return config.Default(), nil
}

func runOnce(eng *engine.Engine, loader *irload.Loader, cfg config.Config, path string) (bool, error) {
	mod, err := loader.LoadFile(path)
	if err != nil {
		return false, err
	}
	res, err := eng.Analyze(context.Background(), mod)
	if err != nil {
		return false, err
	}
	if err := emit(os.Stdout, cfg, res); err != nil {
		return false, err
	}
	return res.Accepted(), nil
}

func emit(w io.Writer, cfg config.Config, res report.ModuleResult) error {
	switch cfg.Format {
	case "json":
		return report.WriteJSON(w, res)
	case "table":
		rd := &report.Renderer{}
		_, err := io.WriteString(w, rd.Table(res))
		return err
	default:
		rd := &report.Renderer{Color: term.ShouldColor(cfg.Color, os.Stdout)}
		_, err := io.WriteString(w, rd.Module(res))
		return err
	}
}

// runWatch re-analyzes the document after each quiet period. Editors
// replace files on save, which drops a watch held on the file itself,
// so the parent directory is watched and events filtered by path.
func runWatch(eng *engine.Engine, loader *irload.Loader, cfg config.Config, path string) {
	log.SetFlags(0)

	w, err := watch.New(watch.DefaultDebounce)
	if err != nil {
		cli.ExitWithError("watch: %v", err)
	}
	defer w.Close()
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		cli.ExitWithError("watch %s: %v", dir, err)
	}

	run := func() {
		if _, err := runOnce(eng, loader, cfg, path); err != nil {
			log.Printf("nomicon: %v", err)
		}
	}
	run()
	log.Printf("nomicon: watching %s", path)

	want := filepath.Clean(path)
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			if !ev.Op.Touches() || filepath.Clean(ev.Path) != want {
				continue
			}
			log.Printf("nomicon: %s changed", ev.Path)
			run()
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			log.Printf("nomicon: watch: %v", err)
		}
	}
}
