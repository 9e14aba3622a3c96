package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags "-X main.version=..."
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "filepond",
		Short:         "Filepond upload server",
		Long:          `Server side of the Filepond upload protocol: atomic and chunked uploads, revert, restore, load and remote fetch.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newStartCmd(),
		newInitCmd(),
		newSchemaCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Version   : %s\n", version)
			fmt.Printf("GIT_COMMIT: %s\n", commit)
			fmt.Printf("BUILD_TIME: %s\n", buildTime)
		},
	}
}
