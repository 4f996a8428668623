package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
	"github.com/codeswitch-dev/aicodeswitch/internal/process"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy service status",
	Long:  `Display the current status of the aicodeswitch proxy service.`,
	Run:   runStatus,
}

func runStatus(_ *cobra.Command, _ []string) {
	procMgr := process.NewManager(baseDir)

	settings, err := config.LoadSettings(baseDir)
	if err != nil {
		color.Red("Load settings: %v", err)
		return
	}

	running := procMgr.IsRunning()

	color.Blue("Status for %s:", AppName)
	fmt.Printf("  %-15s: %v\n", "Running", running)
	fmt.Printf("  %-15s: %d\n", "PID", procMgr.ReadPID())
	fmt.Printf("  %-15s: %s\n", "Host", settings.Host)
	fmt.Printf("  %-15s: %d\n", "Port", settings.Port)
	fmt.Printf("  %-15s: %s\n", "Endpoint", settings.BaseURL())
	fmt.Printf("  %-15s: %s\n", "Data Dir", settings.DataDir)
	fmt.Printf("  %-15s: %d\n", "Sessions", procMgr.ReadRef())
	fmt.Printf("  %-15s: v%s\n", "Version", Version)

	if running {
		fmt.Printf("  %-15s: %s\n", "Health", probeHealth(settings.BaseURL()))
	}
}

func probeHealth(baseURL string) string {
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return "unreachable"
	}
	defer resp.Body.Close()

	return resp.Status
}
