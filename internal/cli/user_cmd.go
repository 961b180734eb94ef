package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/identity"
	"github.com/spf13/cobra"
)

func newUserCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Provision and manage user accounts",
	}

	cmd.AddCommand(newUserCreateCmd(opts))
	cmd.AddCommand(newUserActiveCmd(opts, "activate", true))
	cmd.AddCommand(newUserActiveCmd(opts, "deactivate", false))

	return cmd
}

func newUserCreateCmd(opts *options) *cobra.Command {
	var password, name string
	var admin bool

	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := strings.TrimSpace(args[0])
			if username == "" {
				return errors.New("username cannot be empty")
			}
			if password == "" {
				return errors.New("--password is required")
			}
			if name == "" {
				name = username
			}
			role := domain.RoleUser
			if admin {
				role = domain.RoleAdmin
			}

			hash, err := identity.HashPassword(password)
			if err != nil {
				return err
			}

			repo, err := opts.openStore()
			if err != nil {
				return err
			}
			defer closeStore(repo)

			user := &domain.User{
				Username:     username,
				PasswordHash: hash,
				Name:         name,
				Role:         role,
				Active:       true,
			}
			if err := repo.CreateUser(cmd.Context(), user); err != nil {
				return fmt.Errorf("create user %s: %w", username, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %s (%s)\n", role, username, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "initial password")
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the username)")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the admin role")

	return cmd
}

func newUserActiveCmd(opts *options, verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <username>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := opts.openStore()
			if err != nil {
				return err
			}
			defer closeStore(repo)

			if err := repo.SetUserActive(cmd.Context(), args[0], active); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("user %q not found", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s %sd\n", args[0], verb)
			return nil
		},
	}
}
