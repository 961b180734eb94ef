package cli

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

func newLoginCmd(opts *options) *cobra.Command {
	var server, password string

	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Sign in to an agentdesk server",
		Long:  "Sign in to an agentdesk server. The password is read from stdin when --password is not given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if scanner.Scan() {
					password = strings.TrimRight(scanner.Text(), "\r\n")
				}
				if password == "" {
					return errors.New("password is required")
				}
			}

			resp, err := newServerClient(server, "").login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}

			storage, err := opts.openStorage()
			if err != nil {
				return err
			}
			if err := storage.Set(keyServer, server); err != nil {
				return err
			}
			if err := storage.Set(keyToken, resp.Token); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", resp.User.Username, resp.User.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", defaultServer, "agentdesk server URL")
	cmd.Flags().StringVar(&password, "password", "", "account password")

	return cmd
}

func newLogoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := opts.openStorage()
			if err != nil {
				return err
			}
			server, _, _ := storage.Get(keyServer)
			token, ok, _ := storage.Get(keyToken)
			if ok && server != "" {
				if err := newServerClient(server, token).logout(cmd.Context()); err != nil {
					slog.Warn("Server logout failed", "error", err)
				}
			}
			if err := storage.Delete(keyToken); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out successfully")
			return nil
		},
	}
}
