package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/marketpulse/am"
	"github.com/teranos/marketpulse/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage marketpulse configuration",
	Long: sym.AM + ` am - Manage marketpulse configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (MARKETPULSE_* prefix)
2. .env in the working directory
3. Project config (marketpulse.toml, searched upward)
4. User config (~/.marketpulse/config.toml)
5. System config (/etc/marketpulse/config.toml)
6. Default values

--config replaces all of the above except defaults with a single file.

Examples:
  marketpulse am show                    # Show current configuration
  marketpulse am show --format json      # Show configuration in JSON format
  marketpulse am validate                # Validate current configuration
  marketpulse am where                   # Show which files are read`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current marketpulse configuration from all sources. Credentials are never shown.",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

// renderConfig marshals cfg in the requested format
func renderConfig(cfg *am.Config, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		return string(data) + "\n", nil
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		return "# marketpulse configuration\n" + string(data), nil
	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		return "# marketpulse configuration\n" + string(data), nil
	default:
		return "", fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out, err := renderConfig(cfg, configFormat)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := cfg.RequireAPIKey(); err != nil {
		pterm.Warning.Println("No feed API key: run, loop, schedule, fetch and stocks sync will refuse to start")
	}
	fmt.Println("✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		fmt.Printf("--config %s (only source besides defaults)\n", path)
		return nil
	}

	candidates := []string{"/etc/marketpulse/config.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".marketpulse", "config.toml"))
	}
	if project := am.FindProjectConfig(); project != "" {
		candidates = append(candidates, project)
	} else {
		candidates = append(candidates, "./"+am.ProjectConfigName)
	}
	candidates = append(candidates, ".env")

	fmt.Println("Configuration cascade (lowest precedence first):")
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("  %s %s\n", pterm.Green("✓"), path)
		} else {
			fmt.Printf("  %s %s\n", pterm.Gray("✗"), path)
		}
	}
	fmt.Printf("  %s %s_* environment variables\n", pterm.Gray("→"), am.EnvPrefix)
	return nil
}
