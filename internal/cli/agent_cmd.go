package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/registry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newAgentCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage the agent catalog",
	}

	cmd.AddCommand(newAgentImportCmd(opts))

	return cmd
}

func newAgentImportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create catalog entries from a YAML file",
		Long: `Create catalog entries from a YAML file holding either a list of agents
or a mapping with an "agents" list. Agents whose display name already exists
are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			inputs, err := parseAgentFile(f)
			if err != nil {
				return err
			}

			repo, err := opts.openStore()
			if err != nil {
				return err
			}
			defer closeStore(repo)

			svc := registry.NewService(repo, nil)
			out := cmd.OutOrStdout()
			created, skipped := 0, 0
			for i, in := range inputs {
				agent, err := svc.Create(cmd.Context(), in)
				switch {
				case errors.Is(err, domain.ErrDuplicateName):
					skipped++
					fmt.Fprintf(out, "skip   %s (already exists)\n", in.DisplayName)
				case err != nil:
					return fmt.Errorf("agent #%d (%s): %w", i+1, in.DisplayName, err)
				default:
					created++
					fmt.Fprintf(out, "create %s (%s)\n", agent.DisplayName, agent.ID)
				}
			}
			fmt.Fprintf(out, "%d created, %d skipped\n", created, skipped)
			return nil
		},
	}
}

type agentFile struct {
	Agents []domain.AgentInput `yaml:"agents"`
}

// parseAgentFile accepts a top-level list of agents or {agents: [...]}.
func parseAgentFile(r io.Reader) ([]domain.AgentInput, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read agent file: %w", err)
	}

	var list []domain.AgentInput
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var file agentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse agent file: %w", err)
	}
	return file.Agents, nil
}
