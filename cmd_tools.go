package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"session-core/internal/api"
	"session-core/internal/strategy"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the registered strategies and their parameters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, d := range strategy.DefaultRegistry().List() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.Key, d.Name, d.Doc)
			for _, p := range d.Params {
				fmt.Fprintf(w, "\t  %s (%s, default %v)\t%s\n", p.Name, p.Type, p.Default, p.Doc)
			}
		}
		return w.Flush()
	},
}

var recoverFlags struct {
	account   string
	autoClose bool
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Scan broker accounts once for positions no session claims",
	RunE:  runRecover,
}

var tokenFlags struct {
	subject string
	ttl     time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		token, expiresAt, err := api.MintToken(tokenFlags.subject, cfg.JWTSecret, tokenFlags.ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	recoverCmd.Flags().StringVar(&recoverFlags.account, "account", "", "account to scan (default: configured, then every discovered account)")
	recoverCmd.Flags().BoolVar(&recoverFlags.autoClose, "auto-close", false, "close orphaned positions")

	tokenCmd.Flags().StringVar(&tokenFlags.subject, "subject", "operator", "token subject")
	tokenCmd.Flags().DurationVar(&tokenFlags.ttl, "ttl", 72*time.Hour, "token lifetime")
}

func runRecover(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close(ctx)

	// persisted sessions claim their instruments
	if _, err := st.engine.Restore(ctx); err != nil {
		return err
	}
	reports, err := st.engine.RecoverOrphans(ctx, recoverFlags.account, recoverFlags.autoClose)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(reports); encErr != nil {
		return encErr
	}
	return err
}
