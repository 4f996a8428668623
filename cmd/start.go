package cmd

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
	"github.com/codeswitch-dev/aicodeswitch/internal/process"
	"github.com/codeswitch-dev/aicodeswitch/internal/server"
	"github.com/codeswitch-dev/aicodeswitch/internal/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy service",
	Long:  `Start the aicodeswitch proxy service in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")

	settings, err := config.LoadSettings(baseDir)
	if err != nil {
		return err
	}

	setupLogging(verbose, settings.LogLevel)

	if err := os.MkdirAll(settings.DataDir, 0o755); err != nil {
		return err
	}

	st, err := store.Open(settings.DatabasePath(), logger)
	if err != nil {
		return err
	}
	defer st.Close()

	manager := config.NewManager(st)
	if _, err := manager.Reload(); err != nil {
		return err
	}

	snap := manager.Current()

	color.Green("Starting %s v%s on %s", AppName, Version, settings.Addr())
	logger.Info("starting server",
		"host", settings.Host,
		"port", settings.Port,
		"services", len(snap.ServicesByID),
		"routes", len(snap.ActiveRoutes),
	)

	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	return server.New(settings, manager, st, logger).Start()
}
