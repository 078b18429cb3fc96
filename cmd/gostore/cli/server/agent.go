package server

import (
	"fmt"

	"github.com/mwantia/gostore/internal/agent"
	"github.com/spf13/cobra"

	config "github.com/mwantia/gostore/internal/config/server"
)

func NewAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Start the GoStore Agent",
		Long:  `Start the GoStore Agent`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return fmt.Errorf("failed to load server configuration: %w", err)
			}

			agent := agent.NewAgent(cfg)
			if err := agent.Serve(cmd.Context()); err != nil {
				return err
			}

			return nil
		},
	}

	return cmd
}
