package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rugalib/ruga-filepond/pkg/config"
)

func newInitCmd() *cobra.Command {
	var (
		path  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				written, err := config.InitConfig(force)
				if err != nil {
					return err
				}
				path = written
			} else if err := config.InitConfigToPath(path, force); err != nil {
				return err
			}

			fmt.Printf("Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "config", "", "Destination path (default $XDG_CONFIG_HOME/filepond/config.yaml)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.Schema()
			if err != nil {
				return err
			}

			if output == "" {
				_, err = os.Stdout.Write(append(schema, '\n'))
				return err
			}

			if err := os.WriteFile(output, schema, 0644); err != nil {
				return fmt.Errorf("failed to write schema file: %w", err)
			}
			fmt.Printf("JSON schema written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the schema to this file instead of stdout")
	return cmd
}
