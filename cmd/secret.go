package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/melih-ucgun/autoconfig/internal/consts"
	"github.com/melih-ucgun/autoconfig/internal/crypto"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage encrypted property values",
	Long: `Utilities for generating the master key and encrypting/decrypting
property values. Encrypted values look like ENC[AES256:...] and may be used
in property files, -D overrides and remote credentials.`,
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new master key",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		pterm.Success.Println("Generated Master Key:")
		fmt.Fprintln(cmd.OutOrStdout(), key)
		pterm.Info.Printf("Save this key to $%s/%s or set %s.\n", consts.EnvHome, consts.MasterKeyFileName, consts.EnvMasterKey)
		return nil
	},
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt [value]",
	Short: "Encrypt a value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := masterCipher()
		if err != nil {
			return err
		}
		encrypted, err := c.Encrypt(args[0])
		if err != nil {
			return fmt.Errorf("encryption failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), encrypted)
		return nil
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt [encrypted_value]",
	Short: "Decrypt a value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := masterCipher()
		if err != nil {
			return err
		}
		decrypted, err := c.Decrypt(args[0])
		if err != nil {
			return fmt.Errorf("decryption failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), decrypted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(secretCmd)
	secretCmd.AddCommand(keygenCmd)
	secretCmd.AddCommand(encryptCmd)
	secretCmd.AddCommand(decryptCmd)
}

func masterCipher() (*crypto.Cipher, error) {
	key, err := crypto.LoadMasterKey()
	if err != nil {
		return nil, fmt.Errorf("%w: set %s or run 'autoconfig secret keygen'", err, consts.EnvMasterKey)
	}
	return crypto.NewCipher(key)
}
