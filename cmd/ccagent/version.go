package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ccagent %s (protocol v%d)\n", version, acp.ProtocolVersion)
		},
	}
}
