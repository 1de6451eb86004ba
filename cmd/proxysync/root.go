package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/BadgerOps/proxysync/internal/backup"
	"github.com/BadgerOps/proxysync/internal/config"
	"github.com/BadgerOps/proxysync/internal/engine"
	"github.com/BadgerOps/proxysync/internal/selection"
	"github.com/BadgerOps/proxysync/internal/store"
	"github.com/BadgerOps/proxysync/internal/target"
)

var (
	// Global flags
	cfgPath    string
	backupDir  string
	dbPath     string
	targetList string
	noHistory  bool
	logLevel   string
	logFormat  string
	globalCfg  *config.Config
	logger     *slog.Logger

	// Global components
	globalStore    *store.Store
	globalRegistry *target.Registry
	globalBackup   *backup.Store
	globalEngine   *engine.SyncManager

	// runner backs the snap and git adapters; tests swap it out.
	runner target.Runner = target.ExecRunner{}
)

// initializeComponents builds the store, registry, backup store and engine
// from the loaded config.
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if globalCfg.History.Enabled {
		st, err := store.New(globalCfg.History.DBPath, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize history store: %w", err)
		}
		globalStore = st
	}

	paths := target.Paths{
		PackageManager: globalCfg.Targets.AptConf,
		Environment:    globalCfg.Targets.Environment,
		ShellRc:        globalCfg.Targets.BashRc,
	}
	tools := target.Tools{
		Snap: globalCfg.Tools.Snap,
		Git:  globalCfg.Tools.Git,
	}
	globalRegistry = target.NewDefaultRegistry(paths, tools, runner, logger)

	globalBackup = backup.New(globalCfg.Backup.Dir, map[target.Kind]string{
		target.KindPackageManager: paths.PackageManager,
		target.KindEnvironment:    paths.Environment,
		target.KindShellRc:        paths.ShellRc,
	}, logger)

	globalEngine = engine.NewSyncManager(globalRegistry, globalStore, logger)

	logger.Debug("components initialized")
	return nil
}

// captureBackup takes the one-time snapshot of the file targets before
// anything touches them.
func captureBackup() error {
	res, err := globalBackup.CaptureIfAbsent()
	if err != nil {
		if res == nil {
			return fmt.Errorf("failed to capture backup: %w", err)
		}
		logger.Warn("backup captured with errors", "error", err)
	}
	if res.Captured {
		logger.Info("captured pristine configuration", "dir", globalBackup.Dir(), "saved", res.Saved, "skipped", res.Skipped)
	}
	return nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmd *cobra.Command) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"config":  true,
	}
	if skipInitCmds[cmd.Name()] {
		return true
	}
	return cmd.Parent() != nil && cmd.Parent().Name() == "config"
}

// shouldSkipCapture reports whether cmd must not take the first-run
// snapshot. Importing a backup replaces the capture instead.
func shouldSkipCapture(cmd *cobra.Command) bool {
	return cmd.Name() == "import" && cmd.Parent() != nil && cmd.Parent().Name() == "backup"
}

// closeStore closes the history store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxysync",
		Short: "Apply one proxy setting to apt, environment, shell rc, snap and git",
		Long: `proxysync keeps a host's proxy configuration consistent across the places
that need it: the apt config, /etc/environment, the system bash rc file, the
snap daemon and git's global config.

On its first run it snapshots the three config files so they can be put back
later with "proxysync restore". Without a subcommand it starts an interactive
menu.`,
		Example: `  proxysync set --host proxy.corp --port 3128
  proxysync set --host proxy.corp --port 3128 --username alice --target apt,env
  proxysync remove --target git
  proxysync view
  proxysync status
  proxysync restore
  proxysync menu`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(os.Stderr)

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			if backupDir != "" {
				globalCfg.Backup.Dir = backupDir
			}
			if dbPath != "" {
				globalCfg.History.DBPath = dbPath
			}
			if noHistory {
				globalCfg.History.Enabled = false
			}

			logger.Debug("config loaded", "path", cfgPath, "backup_dir", globalCfg.Backup.Dir)

			if shouldSkipComponentInit(cmd) {
				return nil
			}

			if os.Geteuid() != 0 {
				logger.Warn("not running as root, system files may not be writable")
			}

			if err := initializeComponents(); err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			if shouldSkipCapture(cmd) {
				return nil
			}
			return captureBackup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return menuRun(cmd, args)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&backupDir, "backup-dir", "", "override backup directory")
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "override history database path")
	cmd.PersistentFlags().BoolVar(&noHistory, "no-history", false, "do not record operations in the history database")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")

	cmd.AddCommand(
		newSetCmd(),
		newRemoveCmd(),
		newViewCmd(),
		newStatusCmd(),
		newRestoreCmd(),
		newHistoryCmd(),
		newConfigCmd(),
		newMenuCmd(),
		newBackupCmd(),
	)

	return cmd
}

// addTargetFlag registers --target on commands that fan out.
func addTargetFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&targetList, "target", "", "comma-separated targets (apt, env, bashrc, snap, git); default all")
}

// selectedTargets turns --target into a selection, all targets when unset.
func selectedTargets() (*selection.Set, error) {
	if strings.TrimSpace(targetList) == "" {
		return selection.New(), nil
	}
	kinds, err := target.ParseKinds(targetList)
	if err != nil {
		return nil, err
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("no targets selected")
	}
	return selection.Only(kinds...), nil
}

// setupLogging initializes the slog logger based on flags
func setupLogging(w io.Writer) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			NoColor:    !isTerminal(w),
		})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
