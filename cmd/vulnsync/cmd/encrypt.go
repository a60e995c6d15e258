package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openctemio/vulnsync/internal/config"
	"github.com/openctemio/vulnsync/pkg/crypto"
)

func newEncryptSecretCmd() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "encrypt-secret [VALUE]",
		Short: "Encrypt a secret for use in the config file",
		Long: `Encrypt VALUE with AES-256-GCM and print it as an "enc:" value that can
replace a token or password in the config file. vulnsync decrypts it at
startup with the key from ` + config.EnvEncryptionKey + `.

Without VALUE the secret is read from the first line of stdin, which keeps
it out of the shell history.`,
		Example: `  openssl rand -hex 32 > key.hex
  vulnsync encrypt-secret --key "$(cat key.hex)" dt0c01.XXXX
  echo -n "$JIRA_PASSWORD" | vulnsync encrypt-secret --key "$(cat key.hex)"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = os.Getenv(config.EnvEncryptionKey)
			}
			if key == "" {
				return fmt.Errorf("encryption key required: use --key or set %s (generate one with: openssl rand -hex 32)", config.EnvEncryptionKey)
			}

			cipher, err := crypto.NewCipherFromHex(key)
			if err != nil {
				return fmt.Errorf("invalid key: %w", err)
			}

			var value string
			if len(args) == 1 {
				value = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read secret from stdin: %w", err)
				}
				value = strings.TrimRight(line, "\r\n")
			}
			if value == "" {
				return errors.New("refusing to encrypt an empty value")
			}

			sealed, err := crypto.Seal(cipher, value)
			if err != nil {
				return fmt.Errorf("encrypt: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Hex-encoded 32-byte key (env: "+config.EnvEncryptionKey+")")
	return cmd
}
