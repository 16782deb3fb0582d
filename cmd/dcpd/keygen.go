package main

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/machinefabric/dcp-go/security"
)

var (
	keygenOutFlag     string
	keygenCommentFlag string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an ed25519 signing key",
	Long: `Writes an OpenSSH private key to --out and its authorized_keys line to
--out.pub. Append the .pub line to the server's authorized_keys file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := security.GenerateKey()
		if err != nil {
			return err
		}
		if err := writeKeyPair(keygenOutFlag, keygenCommentFlag, pub, priv); err != nil {
			return err
		}
		fp, err := security.Fingerprint(pub)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s.pub\nsigner id: %s\n", keygenOutFlag, keygenOutFlag, fp)
		return nil
	},
}

func writeKeyPair(path, comment string, pub ed25519.PublicKey, priv ed25519.PrivateKey) error {
	privPEM, err := security.MarshalPrivateKey(priv, comment)
	if err != nil {
		return err
	}
	line, err := security.MarshalAuthorizedKey(pub, comment)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, privPEM, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(path+".pub", line, 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

func init() {
	keygenCmd.Flags().StringVar(&keygenOutFlag, "out", "dcp_ed25519", "private key path")
	keygenCmd.Flags().StringVar(&keygenCommentFlag, "comment", "", "key comment")
	rootCmd.AddCommand(keygenCmd)
}
