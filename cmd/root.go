// Package cmd implements the qswctl command tree.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"qsnet-switch/internal/config"
	"qsnet-switch/internal/database"
	"qsnet-switch/internal/logging"
	"qsnet-switch/internal/nodedir"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/viant/afs"
)

const Version = "1.0.0"

// app carries what every subcommand needs once the root command has run.
type app struct {
	configFile string
	logLevel   string

	cfg      *config.Config
	launchID string
	fs       afs.Service
	out      io.Writer

	// newRecorder is replaced in tests.
	newRecorder func(ctx context.Context, cfg *config.Config) (database.Recorder, error)
}

func Execute() error {
	loadEnvironment()
	return newRootCmd(&app{fs: afs.New(), out: os.Stdout}).Execute()
}

func newRootCmd(a *app) *cobra.Command {
	if a.newRecorder == nil {
		a.newRecorder = defaultRecorder
	}
	rootCmd := &cobra.Command{
		Use:           "qswctl",
		Short:         "QsNet switch resource allocation tool",
		Long:          "Allocates interconnect program ids and hardware contexts, builds job capabilities and drives the program group lifecycle",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.SetOutput(cmd.ErrOrStderr())
			return a.setup()
		},
	}
	rootCmd.SetOut(a.out)

	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(newAllocateCmd(a))
	rootCmd.AddCommand(newShowCmd(a))
	rootCmd.AddCommand(newNodesCmd(a))
	rootCmd.AddCommand(newSimulateCmd(a))
	return rootCmd
}

func (a *app) setup() error {
	a.launchID = uuid.NewString()

	if a.configFile != "" {
		cfg, err := config.LoadConfig(a.configFile)
		if err != nil {
			return err
		}
		a.cfg = cfg
	} else {
		a.cfg = config.Default()
	}

	s := a.cfg.QSwitch
	if err := logging.Configure(s.LogLevel, s.SwitchLogLevel, a.logLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	logging.GetLogger().WithFields(logrus.Fields{
		"launch_id": a.launchID,
		"config":    a.configFile,
	}).Debug("qswctl starting")
	return nil
}

func (a *app) switchLogger() logrus.FieldLogger {
	return logging.GetSwitchLogger().WithField("launch_id", a.launchID)
}

// directory builds the node directory. Inline hosts win over the source URL.
func (a *app) directory() *nodedir.Directory {
	nodes := a.cfg.QSwitch.Nodes
	var src nodedir.Source
	if len(nodes.Hosts) > 0 {
		src = nodedir.StaticSource(nodes.Hosts)
	} else {
		src = nodedir.NewFileSource(nodes.Source, a.fs)
	}
	return nodedir.New(src, a.switchLogger())
}

func defaultRecorder(ctx context.Context, cfg *config.Config) (database.Recorder, error) {
	db := cfg.QSwitch.Data.DB
	if db == nil {
		return database.NopRecorder{}, nil
	}
	return database.NewInfluxRecorder(ctx, *db, "")
}

func loadEnvironment() {
	logger := logging.GetLogger()

	envFile := ".env"
	if _, err := os.Stat(envFile); err != nil {
		execPath, err := os.Executable()
		if err != nil {
			return
		}
		envFile = filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(envFile); err != nil {
			return
		}
	}
	if err := godotenv.Load(envFile); err != nil {
		logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		return
	}
	logger.WithField("file", envFile).Debug("Loaded environment variables")
}
