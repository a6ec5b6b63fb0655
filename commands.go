package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bartek5186/billsync/internal/checkpoint"
	conf "github.com/bartek5186/billsync/internal/config"
	"github.com/bartek5186/billsync/internal/db"
	"github.com/bartek5186/billsync/internal/export"
	"github.com/bartek5186/billsync/internal/integrations"
	"github.com/bartek5186/billsync/internal/integrations/unifica"
	"github.com/bartek5186/billsync/internal/logs"
	"github.com/bartek5186/billsync/internal/metrics"
	"github.com/bartek5186/billsync/internal/metrics/datadog"
	syncer "github.com/bartek5186/billsync/internal/syncer"
)

type options struct {
	configPath string
	envFile    string
	appDir     string
	interval   int
	verbose    bool
}

// app – wspólny stan komend: logger, config, baza.
type app struct {
	opts    *options
	log     zerolog.Logger
	cfg     *conf.Config
	cfgPath string
	dbh     *db.Handle
	dd      *datadog.Backend
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "billsync",
		Short:         "Synchronizacja faktur Lumi/Unifica i negocjacji RD Station do hurtowni",
		Version:       ver,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "ścieżka config.json (domyślnie <app-dir>/config.json)")
	pf.StringVar(&opts.envFile, "env-file", ".env", "plik .env")
	pf.StringVar(&opts.appDir, "app-dir", "", "katalog danych aplikacji (logi, checkpointy, sqlite)")
	pf.IntVar(&opts.interval, "interval", -1, "odstęp między przebiegami w sekundach; 0 = jeden przebieg (domyślnie z configa)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "logi debug")

	root.AddCommand(
		newSyncCmd(opts),
		newExportCmd(opts),
		newAuditCmd(opts),
		newPathsCmd(opts),
	)
	return root
}

func newSyncCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "sync [lumi|unifica|rdstation|all]...",
		Short:     "Pobierz dane ze źródeł i zapisz w tabelach raw_*",
		ValidArgs: append(integrations.Names(), "all"),
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(opts)
			if err != nil {
				return err
			}
			defer a.close()

			names := args
			for _, n := range args {
				if n == "all" {
					names = nil
					break
				}
			}

			// konfiguracja całości sprawdzana przed otwarciem bazy i przed siecią
			check := syncer.New(a.log, a.cfg, integrations.Deps{Log: a.log})
			if err := errors.Join(check.Validate(names...), a.cfg.ValidateDB()); err != nil {
				return err
			}
			if err := a.openDB(); err != nil {
				return err
			}
			a.startMetrics(cmd.Context())

			interval := time.Duration(a.cfg.SyncIntervalSeconds) * time.Second
			if opts.interval >= 0 {
				interval = time.Duration(opts.interval) * time.Second
			}

			s := syncer.New(a.log, a.cfg, a.deps())
			s.SetReload(a.reloadConfig)
			start := time.Now()
			err = s.Loop(cmd.Context(), interval, names...)
			a.log.Info().
				Dur("took", time.Since(start)).
				Uint64("runs", s.Runs()).
				Msg("synchronizacja zakończona")
			return err
		},
	}
}

func newExportCmd(opts *options) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Zapisz widok analytics_completo do pliku xlsx",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(opts)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.cfg.ValidateDB(); err != nil {
				return err
			}
			if err := a.openDB(); err != nil {
				return err
			}

			dir := a.cfg.ExportDir
			if out != "" {
				dir = out
			}
			a.log.Info().Str("view", export.View).Msg("czytam widok")
			path, n, err := export.Run(cmd.Context(), a.dbh.DB, dir, time.Now())
			if errors.Is(err, export.ErrEmpty) {
				a.log.Warn().Str("view", export.View).Msg("widok pusty, plik nie powstał")
				return nil
			}
			if err != nil {
				return err
			}
			a.log.Info().Str("file", path).Int("rows", n).Msg("eksport gotowy")
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "katalog wyjściowy (domyślnie export_dir z configa)")
	return cmd
}

func newAuditCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "audit-uc <uc>",
		Short: "Przeszukaj Unifica i pokaż wszystkie rekordy danej UC (bez zapisu)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(opts)
			if err != nil {
				return err
			}
			defer a.close()

			ucfg, err := unifica.LoadConfig(a.cfg.Integrations[unifica.Name])
			if err != nil {
				return err
			}
			// audyt tylko czyta z API, baza niepotrzebna
			recs, err := unifica.New(integrations.Deps{Log: a.log}, ucfg).Audit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.log.Info().Str("uc", args[0]).Int("matches", len(recs)).Msg("audyt zakończony")
			return nil
		},
	}
}

func newPathsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Pokaż ścieżki logów, configa i checkpointów",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appDir, err := resolveAppDir(opts.appDir)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "Katalog:", appDir)
			fmt.Fprintln(w, "Logi:", filepath.Join(appDir, "app.log"))
			fmt.Fprintln(w, "Config:", configPath(opts, appDir))
			fmt.Fprintln(w, "Checkpoint:", filepath.Join(appDir, unifica.Name+"_checkpoint.txt"))
			return nil
		},
	}
}

func resolveAppDir(dir string) (string, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(base, "billsync")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func configPath(opts *options, appDir string) string {
	if opts.configPath != "" {
		return opts.configPath
	}
	return filepath.Join(appDir, "config.json")
}

// load: katalog -> logger -> .env -> config.json -> env. Bez bazy i bez sieci.
func load(opts *options) (*app, error) {
	appDir, err := resolveAppDir(opts.appDir)
	if err != nil {
		return nil, err
	}
	opts.appDir = appDir

	a := &app{opts: opts}
	a.log = logs.New(filepath.Join(appDir, "app.log"), true, opts.verbose)

	if err := conf.LoadEnv(opts.envFile); err != nil {
		return nil, err
	}
	a.cfgPath = configPath(opts, appDir)
	cfg, firstRun, err := conf.LoadOrCreate(a.cfgPath)
	if err != nil {
		return nil, err
	}
	if firstRun {
		a.log.Info().Str("path", a.cfgPath).Msg("utworzono domyślną konfigurację")
	}
	cfg.ApplyEnv()
	a.cfg = cfg
	return a, nil
}

// reloadConfig – config.json + env od nowa, przed kolejnym przebiegiem pętli.
func (a *app) reloadConfig() (*conf.Config, error) {
	cfg, _, err := conf.LoadOrCreate(a.cfgPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	a.log.Info().Str("path", a.cfgPath).Msg("konfiguracja przeładowana")
	return cfg, nil
}

// openDB: hurtownia z DATABASE_URL albo, przy jawnym DB_KIND=sqlite*, plik w katalogu aplikacji.
func (a *app) openDB() error {
	var err error
	if a.cfg.LocalDB() {
		a.dbh, err = db.OpenAt(a.cfg.DBKind, a.opts.appDir)
	} else {
		a.dbh, err = db.Open(a.cfg.DBKind, a.cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("DB open error: %w", err)
	}
	if err := a.dbh.Migrate(); err != nil {
		return fmt.Errorf("DB migrate error: %w", err)
	}
	a.log.Info().Str("kind", a.dbh.Kind).Str("db", a.dbh.Path).Msg("DB ready")
	return nil
}

// startMetrics podpina Datadoga, jeśli w środowisku jest klucz.
func (a *app) startMetrics(ctx context.Context) {
	if !datadog.Enabled() {
		return
	}
	b, err := datadog.NewBackend(ctx, datadog.Options{
		Tags: datadog.ParseTagsCSV(os.Getenv("DD_TAGS")),
	})
	if err != nil {
		a.log.Warn().Err(err).Msg("datadog wyłączony")
		return
	}
	a.dd = b
	metrics.SetBackend(b)
}

func (a *app) deps() integrations.Deps {
	return integrations.Deps{
		Log: a.log,
		DB:  a.dbh.DB,
		Checkpoints: func(job string) checkpoint.Store {
			return checkpoint.New(a.cfg.Checkpoint, a.opts.appDir, job, a.dbh.DB)
		},
		Pace: true,
	}
}

func (a *app) close() {
	if a.dd != nil {
		if err := a.dd.Close(); err != nil {
			a.log.Warn().Err(err).Msg("datadog flush")
		}
		metrics.SetBackend(nil)
	}
	if a.dbh != nil {
		if err := a.dbh.Close(); err != nil {
			a.log.Warn().Err(err).Msg("DB close")
		}
	}
}
