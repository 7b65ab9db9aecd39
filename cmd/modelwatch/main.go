// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the modelwatch command line tool. It tracks remote
// metadata for locally held model files and reports which of them have newer
// versions available, tolerating flaky and rate-limited catalog backends.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/modelwatch/internal/buildinfo"
	"github.com/traylinx/modelwatch/internal/catalog"
	"github.com/traylinx/modelwatch/internal/config"
	"github.com/traylinx/modelwatch/internal/logging"
	"github.com/traylinx/modelwatch/internal/scanner"
	"github.com/traylinx/modelwatch/internal/tracking"
	"github.com/traylinx/modelwatch/internal/transport"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

const usage = `Usage: modelwatch [flags] <command> [args]

Commands:
  refresh [id ...]          check tracked models against the remote catalog
  status                    list tracked models that have updates available
  watch                     keep membership flags synced while the library changes
  ignore <type> <model> [version]    suppress updates for a model or one version
  unignore <type> <model> [version]  lift a suppression
  version                   print build information

Flags:
`

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", filepath.Join(config.DefaultDataDir(), "config.yaml"), "path to the configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "modelwatch: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(*debug || cfg.Debug)
	if cfg.LoggingToFile {
		logging.EnableFileLogging(cfg.LogsDir)
		defer logging.CloseFileLogging()
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, args := args[0], args[1:]

	if cmd == "version" {
		fmt.Printf("modelwatch %s (%s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer app.Close()

	if err := app.run(ctx, cmd, args); err != nil {
		log.Fatalf("%s failed: %v", cmd, err)
	}
}

// app wires the store, providers, scanner, and refresh engine together.
type app struct {
	cfg      *config.Config
	store    *tracking.Store
	archive  *catalog.ArchiveProvider
	provider catalog.MetadataProvider
	scan     *scanner.DirScanner
	engine   *tracking.RefreshEngine
}

func newApp(cfg *config.Config) (*app, error) {
	store, err := tracking.OpenStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	client := transport.NewClient(
		transport.WithAPIKey(cfg.APIKey),
		transport.WithRateLimit(cfg.RequestsPerSecond),
	)

	reg := catalog.GlobalRegistry()
	reg.Register(catalog.NewCivitaiProvider(client, cfg.CivitaiBaseURL), true)
	if cfg.MirrorBaseURL != "" {
		reg.Register(catalog.NewMirrorProvider(client, cfg.MirrorBaseURL), false)
	}
	a := &app{cfg: cfg, store: store}
	if cfg.ArchivePath != "" {
		archive, err := catalog.OpenArchive(cfg.ArchivePath)
		if err != nil {
			log.Warnf("archive provider unavailable: %v", err)
		} else {
			a.archive = archive
			reg.Register(archive, false)
		}
	}

	order := cfg.ProviderOrder
	if len(order) == 0 {
		order = reg.List()
		// Keep the default first; the rest are secondary quality tiers.
		for i, name := range order {
			if name == reg.DefaultName() && i != 0 {
				order[0], order[i] = order[i], order[0]
			}
		}
	}
	a.provider = catalog.NewFallback(cfg.RateLimitRetries, reg.Ordered(order)...)

	a.scan = scanner.NewDirScanner(cfg.LibraryRoots...)
	a.engine = tracking.NewRefreshEngine(store, a.provider, time.Duration(cfg.UpdateTTLHours)*time.Hour)
	return a, nil
}

func (a *app) Close() {
	if a.archive != nil {
		_ = a.archive.Close()
	}
	_ = a.store.Close()
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "refresh":
		return a.refresh(ctx, args)
	case "status":
		return a.status(ctx)
	case "watch":
		return a.watch(ctx)
	case "ignore":
		return a.setIgnore(ctx, args, true)
	case "unignore":
		return a.setIgnore(ctx, args, false)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) refresh(ctx context.Context, args []string) error {
	var targets []int64
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid model id %q", arg)
		}
		targets = append(targets, id)
	}

	local, err := a.scan.Scan()
	if err != nil {
		return err
	}
	stats, err := a.engine.Refresh(ctx, local, targets)
	if stats != nil {
		log.Infof("Refresh finished: %d checked, %d updated, %d missing, %d skipped",
			stats.Checked, stats.Updated, stats.Missing, stats.Skipped)
	}
	return err
}

func (a *app) status(ctx context.Context) error {
	local, err := a.scan.Scan()
	if err != nil {
		return err
	}
	updates := 0
	for modelType, models := range local {
		seen := make(map[int64]bool)
		var ids []int64
		for _, m := range models {
			if !seen[m.ModelID] {
				seen[m.ModelID] = true
				ids = append(ids, m.ModelID)
			}
		}
		result, err := a.store.HasUpdatesBulk(ctx, modelType, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if !result[id] {
				continue
			}
			updates++
			rec, err := a.store.GetRecord(ctx, modelType, id)
			if err != nil {
				return err
			}
			fmt.Printf("%s/%d: update available (latest version %d)\n", modelType, id, rec.LatestVersion())
		}
	}
	if updates == 0 {
		fmt.Println("All tracked models are up to date.")
	}
	return nil
}

func (a *app) watch(ctx context.Context) error {
	w, err := scanner.NewWatcher(a.scan, a.store)
	if err != nil {
		return err
	}
	w.Start(ctx)
	log.Infof("Watching %s for library changes", strings.Join(a.cfg.LibraryRoots, ", "))
	<-ctx.Done()
	return nil
}

func (a *app) setIgnore(ctx context.Context, args []string, flagValue bool) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("expected <type> <model-id> [version-id]")
	}
	modelType := args[0]
	modelID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid model id %q", args[1])
	}
	if len(args) == 2 {
		return a.store.SetShouldIgnore(ctx, modelType, modelID, flagValue)
	}
	versionID, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version id %q", args[2])
	}
	return a.store.SetVersionShouldIgnore(ctx, modelType, modelID, versionID, flagValue)
}
