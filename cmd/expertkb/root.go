package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cognicore/expertkb/pkg/expertkb"
	"github.com/cognicore/expertkb/pkg/expertkb/config"
	"github.com/cognicore/expertkb/pkg/expertkb/store"
	"github.com/cognicore/expertkb/pkg/expertkb/store/sqlite"
)

// Command annotations read by the root hooks.
const (
	annotationArchive = "expertkb/archive" // command needs the snapshot archive
	annotationMutates = "expertkb/mutates" // command changes state worth saving
)

// app carries the flags and the system shared by all subcommands.
type app struct {
	configPath string
	kbPath     string
	statePath  string
	dbPath     string
	verbose    bool
	asJSON     bool

	log *zap.Logger
	sys *expertkb.System
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "expertkb",
		Short: "Rule-based reasoning over facts and SE...ENTÃO rules",
		Long: `expertkb keeps facts and IF...THEN rules, derives new facts by forward
chaining, proves goals by backward chaining and explains why a conclusion
holds or how a goal can be reached.

Knowledge comes from a YAML seed file (--kb) and is carried between runs in a
JSON state file (--state) or in named snapshots in a SQLite archive (--db).

Examples:
  expertkb --kb kb.yaml forward
  expertkb --kb kb.yaml why "pode dirigir"
  expertkb --state kb.json ask "SE idade >= 18 ENTÃO maior_de_idade"
  expertkb --state kb.json chat`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML config file")
	flags.StringVar(&a.kbPath, "kb", "", "YAML knowledge seed file, applied when no state is loaded")
	flags.StringVar(&a.statePath, "state", "", "JSON state file, loaded at start and written after changes")
	flags.StringVar(&a.dbPath, "db", "", "snapshot archive path (overrides archive.path)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")
	flags.BoolVar(&a.asJSON, "json", false, "Print results as JSON")

	cmd.AddCommand(
		newForwardCmd(a),
		newProveCmd(a),
		newWhyCmd(a),
		newHowCmd(a),
		newAskCmd(a),
		newChatCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newSnapshotCmd(a),
	)
	return cmd
}

// setup loads the configuration, builds the logger and the system, then
// restores the state file or applies the knowledge seed.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	loader := config.Loader{ConfigPath: a.configPath, KnowledgePath: a.kbPath}
	comp, err := loader.Load()
	if err != nil {
		return err
	}
	cfg := comp.Config
	if a.dbPath != "" {
		cfg.Archive.Path = a.dbPath
	}

	if a.log, err = newLogger(cfg, a.verbose); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	var archive store.Archive
	if cmd.Annotations[annotationArchive] != "" {
		archive, err = sqlite.OpenSQLite(a.context(cmd), cfg.Archive.Path)
		if err != nil {
			return err
		}
	}

	a.sys, err = expertkb.New(expertkb.Options{Config: &cfg, Archive: archive, Logger: a.log})
	if err != nil {
		if archive != nil {
			_ = archive.Close()
		}
		return err
	}

	loaded, err := a.loadState()
	if err != nil {
		return err
	}
	if !loaded && comp.Knowledge != nil {
		rules, facts, err := a.sys.Seed(comp.Knowledge)
		if err != nil {
			return fmt.Errorf("apply %s: %w", a.kbPath, err)
		}
		a.log.Debug("knowledge seed applied", zap.String("path", a.kbPath), zap.Int("rules", rules), zap.Int("facts", facts))
	}
	return nil
}

func (a *app) teardown(cmd *cobra.Command) error {
	var err error
	if a.sys != nil {
		if cmd.Annotations[annotationMutates] != "" {
			err = a.saveState()
		}
		err = errors.Join(err, a.sys.Close())
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return err
}

func newLogger(cfg config.Config, verbose bool) (*zap.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// loadState reads the state file. A missing file is not an error.
func (a *app) loadState() (bool, error) {
	if a.statePath == "" {
		return false, nil
	}
	f, err := os.Open(a.statePath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	if err := a.sys.ReadState(f); err != nil {
		return false, fmt.Errorf("load %s: %w", a.statePath, err)
	}
	a.log.Debug("state loaded", zap.String("path", a.statePath))
	return true, nil
}

func (a *app) saveState() error {
	if a.statePath == "" {
		return nil
	}
	f, err := os.Create(a.statePath)
	if err != nil {
		return err
	}
	if err := a.sys.WriteState(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", a.statePath, err)
	}
	return f.Close()
}

func (a *app) context(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
