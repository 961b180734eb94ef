package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/agentdesk/internal/clientcfg"
	"github.com/spf13/cobra"
)

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the chat client configuration",
	}

	cmd.AddCommand(newConfigSetCmd(opts))
	cmd.AddCommand(newConfigShowCmd(opts))
	cmd.AddCommand(newConfigPathCmd(opts))

	return cmd
}

func newConfigSetCmd(opts *options) *cobra.Command {
	var cfg clientcfg.Config

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the assistant endpoint, assistant ID and API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.APIURL == "" && cfg.AssistantID == "" && cfg.APIKey == "" {
				return errors.New("nothing to set: pass --api-url, --assistant-id or --api-key")
			}
			storage, err := opts.openStorage()
			if err != nil {
				return err
			}
			if err := clientcfg.SetConfig(storage, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved to %s\n", storage.Path())
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.APIURL, "api-url", "", "assistant API deployment URL")
	cmd.Flags().StringVar(&cfg.AssistantID, "assistant-id", "", "assistant or graph ID")
	cmd.Flags().StringVar(&cfg.APIKey, "api-key", "", "assistant API key")

	return cmd
}

func newConfigShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := opts.openStorage()
			if err != nil {
				return err
			}
			cfg, err := clientcfg.Current(storage, envDefaults())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "apiUrl:      %s\n", orUnset(cfg.APIURL))
			fmt.Fprintf(out, "assistantId: %s\n", orUnset(cfg.AssistantID))
			fmt.Fprintf(out, "apiKey:      %s\n", maskSecret(cfg.APIKey))
			if missing := clientcfg.Validate(cfg); len(missing) > 0 {
				fmt.Fprintf(out, "missing:     %s\n", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

func newConfigPathCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), opts.configPath)
		},
	}
}

// envDefaults are the fallbacks the resolver persists when nothing else is set.
func envDefaults() clientcfg.Config {
	assistant := os.Getenv("LANGGRAPH_ASSISTANT_ID")
	if assistant == "" {
		assistant = "agent"
	}
	return clientcfg.Config{
		APIURL:      os.Getenv("LANGGRAPH_API_URL"),
		AssistantID: assistant,
		APIKey:      os.Getenv("LANGGRAPH_API_KEY"),
	}
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return "(unset)"
	case len(s) <= 8:
		return "********"
	default:
		return s[:4] + strings.Repeat("*", 8)
	}
}
