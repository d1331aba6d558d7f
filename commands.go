package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lizhenmiao/shopify-translation/internal/auth"
	"github.com/lizhenmiao/shopify-translation/internal/catalog"
	"github.com/lizhenmiao/shopify-translation/internal/config"
	"github.com/lizhenmiao/shopify-translation/internal/db"
	"github.com/lizhenmiao/shopify-translation/internal/ledger"
	"github.com/lizhenmiao/shopify-translation/internal/shopify"
	"github.com/lizhenmiao/shopify-translation/internal/wizard"
)

// ---------------------------------------------------------------------------
// provider (manage translation providers)
// ---------------------------------------------------------------------------

func newProviderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage translation providers",
	}
	cmd.AddCommand(newProviderAddCmd(), newProviderListCmd())
	return cmd
}

func newProviderAddCmd() *cobra.Command {
	var p db.Provider
	var noInput bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a provider (asks for anything not given as a flag)",
		Long: `Add an OpenAI-compatible translation provider.

Missing fields are asked interactively; the API key is read without echo.
A running server picks the provider up on POST /api/v1/providers/reload.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !noInput {
				var err error
				if p, err = wizard.NewTerminal().Provider(p); err != nil {
					return err
				}
			} else if p.Name == "" || p.BaseURL == "" || p.Model == "" {
				return fmt.Errorf("--name, --base-url and --model are required with --no-input")
			}
			p.IsActive = true

			database, err := openDB(config.Load())
			if err != nil {
				return err
			}
			defer database.Close()
			if err := ledger.New(database).CreateProvider(cmd.Context(), &p); err != nil {
				return err
			}
			fmt.Printf("Provider %q added (id %d)\n", p.Name, p.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&p.Name, "name", "", "unique provider name")
	f.StringVar(&p.BaseURL, "base-url", "", "OpenAI-compatible base URL")
	f.StringVar(&p.ProviderType, "type", "openai", "provider type")
	f.StringVar(&p.Model, "model", "", "model name")
	f.StringVar(&p.APIKey, "api-key", "", "API key (prefer the interactive prompt)")
	f.IntVar(&p.RequestsPerMinute, "rpm", 0, "requests per minute, 0 = unlimited")
	f.IntVar(&p.RequestsPerDay, "rpd", 0, "requests per day, 0 = unlimited")
	f.IntVar(&p.TokensPerMinute, "tpm", 0, "tokens per minute, 0 = unlimited")
	f.IntVar(&p.TokensPerDay, "tpd", 0, "tokens per day, 0 = unlimited")
	f.BoolVar(&noInput, "no-input", false, "never prompt")
	return cmd
}

func newProviderListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List providers and today's usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB(config.Load())
			if err != nil {
				return err
			}
			defer database.Close()
			providers, err := ledger.New(database).ListProviders(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMODEL\tACTIVE\tKEY\tRPM\tTPM\tRPD\tTPD\tTODAY")
			for _, p := range providers {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\t%d\t%d\t%d\t%d\t%d req / %d tok\n",
					p.ID, p.Name, p.Model, p.IsActive, ledger.MaskKey(p.APIKey),
					p.RequestsPerMinute, p.TokensPerMinute, p.RequestsPerDay, p.TokensPerDay,
					p.DailyRequestCount, p.DailyTokenCount)
			}
			return tw.Flush()
		},
	}
}

// ---------------------------------------------------------------------------
// apikey (HTTP API key)
// ---------------------------------------------------------------------------

func newAPIKeyCmd() *cobra.Command {
	var set, remove bool
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Generate or set the HTTP API key",
		Long: `Generate a new random API key and store its bcrypt hash. The key is
printed once. With --set the key is read from the terminal instead; with
--clear the API is left open.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB(config.Load())
			if err != nil {
				return err
			}
			defer database.Close()

			switch {
			case remove:
				if err := database.SetSetting(auth.SettingKeyHash, ""); err != nil {
					return err
				}
				fmt.Println("API key removed; the HTTP API is open.")
				return nil
			case set:
				key, err := wizard.NewTerminal().Secret("API key")
				if err != nil {
					return err
				}
				if key == "" {
					return fmt.Errorf("empty key")
				}
				if err := auth.SetKey(database, key); err != nil {
					return err
				}
				fmt.Println("API key updated.")
				return nil
			}

			key, err := auth.GenerateKey()
			if err != nil {
				return err
			}
			if err := auth.SetKey(database, key); err != nil {
				return err
			}
			fmt.Printf("New API key (shown once):\n\n  %s\n\n", key)
			return nil
		},
	}
	cmd.Flags().BoolVar(&set, "set", false, "read the key from the terminal")
	cmd.Flags().BoolVar(&remove, "clear", false, "remove the key")
	return cmd
}

// ---------------------------------------------------------------------------
// sync (one-off content sync)
// ---------------------------------------------------------------------------

func newSyncCmd() *cobra.Command {
	var types, locales []string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror Shopify content into the database and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			database, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			syncer := shopify.NewSyncer(newShopifyClient(cfg), catalog.New(database), nil)
			rep, err := syncer.Sync(ctx, upper(types), locales)
			if err != nil {
				return err
			}
			fmt.Printf("Synced %d resource(s): %d source row(s), %d target row(s), %d deleted in %s\n",
				rep.Resources, rep.SourceItems, rep.TargetItems, rep.Deleted,
				rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&types, "types", nil, "resource types, e.g. PRODUCT,COLLECTION (default all)")
	cmd.Flags().StringSliceVar(&locales, "locales", nil, "target locales (default all published)")
	return cmd
}

func upper(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return out
}
