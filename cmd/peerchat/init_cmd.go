package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opd-ai/peerchat/config"
)

func newInitCmd() *cobra.Command {
	var (
		path      string
		directory string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "init <username>",
		Short: "Write a starter config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			cfg.Node.Username = args[0]
			if directory != "" {
				cfg.Directory.URL = directory
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s for %s\n", path, args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "output", "o", "config.json", "where to write the config")
	cmd.Flags().StringVar(&directory, "directory", "", "directory service URL")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
