// Package cli implements the agentdeskctl command tree: operator commands
// that work on the database directly and a terminal chat client that talks
// to the assistant API.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ashureev/agentdesk/internal/clientcfg"
	"github.com/ashureev/agentdesk/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultDBPath = "./data/agentdesk.db"

// options carries the persistent flags shared by every subcommand.
type options struct {
	dbPath     string
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "agentdeskctl",
		Short: "agentdesk operator tool and terminal chat client",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil {
				slog.Debug("No .env file found")
			}
			if opts.dbPath == "" {
				opts.dbPath = os.Getenv("DB_PATH")
			}
			if opts.dbPath == "" {
				opts.dbPath = defaultDBPath
			}
			if opts.configPath == "" {
				p, err := clientcfg.DefaultPath()
				if err != nil {
					return err
				}
				opts.configPath = p
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: parseLevel(opts.logLevel),
			})))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (default $DB_PATH or "+defaultDBPath+")")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "client configuration file (default <user config dir>/agentdesk/config.json)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(newUserCmd(opts))
	cmd.AddCommand(newAgentCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newLoginCmd(opts))
	cmd.AddCommand(newLogoutCmd(opts))
	cmd.AddCommand(newChatCmd(opts))
	cmd.AddCommand(newThreadsCmd(opts))
	cmd.AddCommand(newAgentsCmd(opts))

	return cmd
}

// Execute runs the root command.
func Execute() error {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func (o *options) openStore() (*store.SQLiteStore, error) {
	repo, err := store.NewSQLite(o.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", o.dbPath, err)
	}
	return repo, nil
}

func (o *options) openStorage() (*clientcfg.FileStorage, error) {
	return clientcfg.OpenFileStorage(o.configPath)
}

func closeStore(repo *store.SQLiteStore) {
	if err := repo.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
