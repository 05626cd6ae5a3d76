package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"risksignal/pkg/crypto"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a random ENCRYPTION_KEY",
	Long: `Печатает случайный 32-байтный ключ в hex для ENCRYPTION_KEY.
Ключ шифрует телефоны и Slack webhook в настройках уведомлений;
после смены ключа сохраненные значения не расшифровываются.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
