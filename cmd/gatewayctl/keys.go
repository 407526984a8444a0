package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"billing-gateway/internal/infra/security"
)

func genKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Print a new base64 AES-256 key for security.encryption_key",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := security.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), k)
			return nil
		},
	}
}

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt one line read from stdin with the configured key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
			if err != nil {
				return err
			}
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read stdin: %w", err)
			}
			sealed, err := svc.Encrypt(strings.TrimRight(line, "\r\n"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
}
