package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"billing-gateway/internal/config"
	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/repository"
	payAdapters "billing-gateway/internal/infra/adapters/payment"
	pg "billing-gateway/internal/infra/db/postgres"
	"billing-gateway/internal/infra/logging"
	"billing-gateway/internal/infra/security"
	"billing-gateway/internal/usecase"
)

func gatewaysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateways",
		Short: "Inspect and seed payment gateway instances",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "types",
		Short: "List the supported gateway types and their credential fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := usecase.NewGatewayRegistry(payAdapters.Factories(), nil, 0, logging.New(config.LogConfig{Level: "error"}, false))
			printSchemas(cmd.OutOrStdout(), registry.Schemas())
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured gateways with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGatewayRepo(cmd.Context(), func(ctx context.Context, repo repository.GatewayRepository, registry *usecase.GatewayRegistry) error {
				list, err := repo.List(ctx, nil)
				if err != nil {
					return err
				}
				printGateways(cmd.OutOrStdout(), registry, list)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Create or update the gateways declared in the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return withGatewayRepo(cmd.Context(), func(ctx context.Context, repo repository.GatewayRepository, registry *usecase.GatewayRegistry) error {
				return seedGateways(ctx, cmd.OutOrStdout(), repo, registry, cfg.Gateways)
			})
		},
	})
	return cmd
}

func withGatewayRepo(parent context.Context, fn func(ctx context.Context, repo repository.GatewayRepository, registry *usecase.GatewayRegistry) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()

	if cfg.Security.EncryptionKey == "" {
		return fmt.Errorf("security.encryption_key is required to read or write gateway credentials")
	}
	sealer, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
	if err != nil {
		return err
	}
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	repo := pg.NewGatewayRepo(pool, sealer)
	registry := usecase.NewGatewayRegistry(payAdapters.Factories(), repo, cfg.Payment.HTTPTimeout, logger)
	return fn(ctx, repo, registry)
}

// seedGateways upserts each seed by gateway name. Every seed is validated by
// building its adapter before anything is written.
func seedGateways(ctx context.Context, out io.Writer, repo repository.GatewayRepository, registry *usecase.GatewayRegistry, seeds []config.GatewaySeed) error {
	if len(seeds) == 0 {
		fmt.Fprintln(out, "No gateways declared in config. No changes.")
		return nil
	}

	rows := make([]*model.PayGateway, 0, len(seeds))
	for _, s := range seeds {
		f, err := registry.Factory(s.Name)
		if err != nil {
			return err
		}
		g := &model.PayGateway{
			Gateway:     f.Name(),
			Title:       s.Title,
			Enabled:     s.Enabled,
			TestMode:    s.TestMode,
			Credentials: s.Credentials,
		}
		if g.Title == "" {
			g.Title = f.Schema().Title
		}
		if _, err := registry.Build(g); err != nil {
			return fmt.Errorf("gateway %s: %w", f.Name(), err)
		}
		rows = append(rows, g)
	}

	for _, g := range rows {
		existing, err := repo.FindByName(ctx, nil, g.Gateway)
		switch {
		case err == nil:
			g.ID = existing.ID
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		action := "created"
		if g.ID != 0 {
			action = "updated"
		}
		if err := repo.Save(ctx, nil, g); err != nil {
			return fmt.Errorf("save %s: %w", g.Gateway, err)
		}
		fmt.Fprintf(out, "  - %s (id=%d, enabled=%t, test_mode=%t) %s\n", g.Gateway, g.ID, g.Enabled, g.TestMode, action)
	}
	return nil
}

func printGateways(out io.Writer, registry *usecase.GatewayRegistry, list []*model.PayGateway) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tGATEWAY\tENABLED\tTEST\tCREDENTIALS")
	for _, g := range list {
		var secret []string
		if f, err := registry.Factory(g.Gateway); err == nil {
			secret = f.Schema().SecretFields()
		}
		fmt.Fprintf(w, "%d\t%s\t%t\t%t\t%s\n", g.ID, g.Gateway, g.Enabled, g.TestMode, formatCredentials(logging.RedactMap(g.Credentials, secret)))
	}
	_ = w.Flush()
}

func formatCredentials(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, " ")
}

func printSchemas(out io.Writer, schemas []model.GatewayConfig) {
	for _, s := range schemas {
		c := s.Capabilities
		fmt.Fprintf(out, "%s (one-time=%t recurring=%t refunds=%t currencies=%s)\n",
			s.Name, c.SupportsOneTime, c.SupportsRecurring, c.SupportsRefunds, strings.Join(c.SupportedCurrencies, ","))
		for _, f := range s.Fields {
			req := ""
			if f.Required {
				req = " required"
			}
			fmt.Fprintf(out, "    %-20s %s%s\n", f.Name, f.Type, req)
		}
	}
}
