package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "mcpgate",
		Short:         "HTTP gateway that pools stdio MCP servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newSendCmd(),
		newStatusCmd(),
		newListCmd(),
		newRegisterCmd(),
		newUnregisterCmd(),
		newTerminateCmd(),
		newEventsCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mcpgate version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("mcpgate " + version)
		},
	}
}
