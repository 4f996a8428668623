package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
	"github.com/codeswitch-dev/aicodeswitch/internal/store"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the aicodeswitch routing configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Seed the routing configuration by prompting for a first provider.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the routing table and application settings.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Check the stored configuration for referential integrity.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	color.Blue("%s configuration setup", AppName)
	color.Yellow("Follow the prompts to register your first provider.")

	reader := bufio.NewReader(os.Stdin)

	vendorName := prompt(reader, "Vendor name (e.g. openai, anthropic)")
	sourceType := config.SourceType(prompt(reader, "Source type (claude-chat, claude-code, openai-chat, openai-code, openai-responses, deepseek-chat)"))
	apiURL := prompt(reader, "API base URL")
	apiKey := prompt(reader, "API key")
	model := prompt(reader, "Default model (optional)")
	routerKey := prompt(reader, "Proxy API key (optional, guards client traffic)")

	if !sourceType.Valid() {
		return fmt.Errorf("unknown source type %q", sourceType)
	}

	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	vendor, err := st.CreateVendor(config.Vendor{Name: vendorName})
	if err != nil {
		return err
	}

	svc := config.Service{
		VendorID:   vendor.ID,
		Name:       vendorName + "-default",
		APIURL:     apiURL,
		APIKey:     apiKey,
		SourceType: sourceType,
	}
	if model != "" {
		svc.SupportedModels = []string{model}
	}

	svc, err = st.CreateService(svc)
	if err != nil {
		return err
	}

	// Both client surfaces start on the same provider; the admin API can
	// split them later.
	for _, target := range []config.TargetType{config.TargetClaudeCode, config.TargetCodex} {
		route, err := st.CreateRoute(config.Route{
			Name:       fmt.Sprintf("%s via %s", target, vendorName),
			TargetType: target,
			IsActive:   true,
		})
		if err != nil {
			return err
		}

		rule := config.Rule{
			RouteID:         route.ID,
			ContentType:     config.ContentDefault,
			TargetServiceID: svc.ID,
			TargetModel:     model,
		}
		if _, err := st.UpsertRule(rule); err != nil {
			return err
		}
	}

	if routerKey != "" {
		cfg, err := st.AppConfig()
		if err != nil {
			return err
		}

		cfg.APIKey = routerKey
		if err := st.SaveAppConfig(cfg); err != nil {
			return err
		}
	}

	color.Green("Configuration saved")
	color.Cyan("Start the proxy with: acs start")

	return nil
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	st, settings, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	cfg, err := st.AppConfig()
	if err != nil {
		return err
	}

	color.Blue("Current configuration:")
	fmt.Printf("  %-15s: %s\n", "Endpoint", settings.BaseURL())
	fmt.Printf("  %-15s: %s\n", "Database", settings.DatabasePath())
	fmt.Printf("  %-15s: %s\n", "Proxy API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-15s: %v\n", "Logging", cfg.EnableLogging)
	fmt.Printf("  %-15s: %d days / %d rows\n", "Log Retention", cfg.LogRetentionDays, cfg.MaxLogSize)

	bundle, err := st.Export()
	if err != nil {
		return err
	}

	services := make(map[string]config.Service, len(bundle.Services))
	for _, svc := range bundle.Services {
		services[svc.ID] = svc
	}

	fmt.Println("\nVendors:")

	for _, vendor := range bundle.Vendors {
		fmt.Printf("  - %s\n", vendor.Name)

		for _, svc := range bundle.Services {
			if svc.VendorID != vendor.ID {
				continue
			}

			fmt.Printf("      %s [%s] %s key=%s\n", svc.Name, svc.SourceType, svc.APIURL, maskString(svc.APIKey))
		}
	}

	fmt.Println("\nRoutes:")

	for _, route := range bundle.Routes {
		marker := " "
		if route.IsActive {
			marker = "*"
		}

		fmt.Printf("  %s %s (%s)\n", marker, route.Name, route.TargetType)

		for _, rule := range bundle.Rules {
			if rule.RouteID != route.ID {
				continue
			}

			line := fmt.Sprintf("      %-20s -> %s", rule.ContentType, services[rule.TargetServiceID].Name)
			if rule.TargetModel != "" {
				line += " model=" + rule.TargetModel
			}

			fmt.Println(line)
		}
	}

	return nil
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	bundle, err := st.Export()
	if err != nil {
		return err
	}

	if err := store.ValidateBundle(bundle); err != nil {
		color.Red("Configuration invalid: %v", err)
		return err
	}

	color.Green("Configuration is valid: %d vendors, %d services, %d routes, %d rules",
		len(bundle.Vendors), len(bundle.Services), len(bundle.Routes), len(bundle.Rules))

	return nil
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Printf("%s: ", label)

	line, _ := reader.ReadString('\n')

	return strings.TrimSpace(line)
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}

	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
