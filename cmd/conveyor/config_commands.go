package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"conveyor/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, inspect, and check the configuration file",
	}
	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigShowCommand(ctx),
		newConfigValidateCommand(ctx),
	)
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		targetPath string
		overwrite  bool
	)
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := configTarget(targetPath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if !overwrite {
				_, statErr := os.Stat(target)
				switch {
				case statErr == nil:
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				case !errors.Is(statErr, os.ErrNotExist):
					return fmt.Errorf("check config path: %w", statErr)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set llm.api_key (or export CONVEYOR_LLM_API_KEY) before running the daemon.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

// configTarget expands an explicit --path or falls back to the default
// config location.
func configTarget(path string) (string, error) {
	if path = strings.TrimSpace(path); path == "" {
		target, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("determine default config path: %w", err)
		}
		return target, nil
	}
	target, err := config.ExpandPath(path)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return target, nil
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			data, err := toml.Marshal(redactConfig(*cfg))
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load the configuration and report whether it is usable",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if ctx.configFlag != nil {
				path = *ctx.configFlag
			}
			cfg, resolved, exists, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			out := cmd.OutOrStdout()
			if exists {
				fmt.Fprintf(out, "Configuration valid: %s\n", resolved)
			} else {
				fmt.Fprintf(out, "No config file at %s; built-in defaults are valid\n", resolved)
			}
			if err := cfg.RequireLLM(); err != nil {
				fmt.Fprintf(out, "Daemon will not start: %v\n", err)
			}
			return nil
		},
	}
}

// redactConfig hides the API key and the ntfy topic path, which acts as a
// publish credential.
func redactConfig(cfg config.Config) config.Config {
	cfg.LLM.APIKey = maskSecret(cfg.LLM.APIKey)
	if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
		if u, err := url.Parse(topic); err == nil && u.Host != "" {
			u.Path = "/" + maskSecret(strings.TrimPrefix(u.Path, "/"))
			cfg.Notifications.NtfyTopic = u.String()
		} else {
			cfg.Notifications.NtfyTopic = maskSecret(topic)
		}
	}
	return cfg
}

func maskSecret(value string) string {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return ""
	case len(value) <= 8:
		return "********"
	default:
		return value[:4] + strings.Repeat("*", 8)
	}
}
