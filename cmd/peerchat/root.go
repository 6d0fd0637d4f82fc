package main

import (
	"github.com/spf13/cobra"

	"github.com/opd-ai/peerchat/config"
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "peerchat",
		Short:         "Peer-to-peer encrypted chat node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (JSON); PEERCHAT_* environment variables override it")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		if err := cfg.ConfigureLogging(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	root.AddCommand(
		newRunCmd(load),
		newInitCmd(),
		newIdentityCmd(load),
	)
	return root
}
