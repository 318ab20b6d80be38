package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the master key, hash secret and result signing key if missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		keys, err := loadKeys(cfg.Keys)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "signer address: %s\n", crypto.PubkeyToAddress(keys.signer.PublicKey).Hex())
		fmt.Fprintf(cmd.OutOrStdout(), "signing key:    %s\n", cfg.Keys.SigningKeyFile)
		if cfg.Keys.MasterKey == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "master key:     %s\n", cfg.Keys.MasterKeyFile)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "hash secret:    %s\n", cfg.Keys.HashSecretFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
}
