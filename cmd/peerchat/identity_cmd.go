package main

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opd-ai/peerchat/config"
	"github.com/opd-ai/peerchat/crypto"
)

func newIdentityCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "Show the node identity, creating it if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			id, created, err := loadIdentity(cfg)
			if err != nil {
				return err
			}
			defer id.Wipe()

			printIdentity(cmd.OutOrStdout(), id, cfg.Node.IdentityPath, created)
			return nil
		},
	}
}

func loadIdentity(cfg *config.Config) (*crypto.Identity, bool, error) {
	var passphrase []byte
	if cfg.Node.IdentityPassphrase != "" {
		passphrase = []byte(cfg.Node.IdentityPassphrase)
	}
	return crypto.LoadOrCreateIdentity(cfg.Node.IdentityPath, cfg.Node.Username, passphrase)
}

func printIdentity(w io.Writer, id *crypto.Identity, path string, created bool) {
	label := color.New(color.FgCyan).SprintFunc()
	pub := id.PublicKey()
	sig := id.SigningPublicKey()

	if created {
		color.New(color.FgGreen).Fprintf(w, "Created new identity at %s\n", path)
	}
	fmt.Fprintf(w, "%s %s\n", label("Username:   "), id.Username)
	fmt.Fprintf(w, "%s %s\n", label("Node ID:    "), id.NodeID)
	fmt.Fprintf(w, "%s %s\n", label("Public key: "), hex.EncodeToString(pub[:]))
	fmt.Fprintf(w, "%s %s\n", label("Signing key:"), hex.EncodeToString(sig[:]))
}
