package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alim08/fin_desk/pkg/auth"
	"github.com/alim08/fin_desk/pkg/database"
	"github.com/spf13/cobra"
)

// dbOpener connects to postgres; tests swap in a sqlmock-backed DB.
type dbOpener func() (*database.DB, error)

const commandTimeout = 30 * time.Second

// newRootCmd builds the operator CLI for keys, tokens, schema and payment data.
func newRootCmd(openDB dbOpener) *cobra.Command {
	root := &cobra.Command{
		Use:           "deskctl",
		Short:         "Operate a fin_desk deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newKeysCmd(), newTokenCmd(), newMigrateCmd(openDB), newPaymentsCmd(openDB))
	return root
}

func newKeysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage the RS256 key pair used for API tokens",
	}

	cfg := auth.NewConfig()
	var bits int
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Write a new key pair as PEM files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, pub, err := auth.GenerateKeyPair(bits)
			if err != nil {
				return err
			}
			if err := auth.SavePrivateKey(priv, cfg.PrivateKeyPath); err != nil {
				return fmt.Errorf("failed to save private key: %w", err)
			}
			if err := auth.SavePublicKey(pub, cfg.PublicKeyPath); err != nil {
				return fmt.Errorf("failed to save public key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", cfg.PrivateKeyPath, cfg.PublicKeyPath)
			return nil
		},
	}
	generate.Flags().IntVar(&bits, "bits", 2048, "RSA key size")
	keyPathFlags(generate, cfg)

	keys.AddCommand(generate)
	return keys
}

func newTokenCmd() *cobra.Command {
	cfg := auth.NewConfig()
	var accountID, username string
	var roles []string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := auth.NewAuthService(cfg)
			if err != nil {
				return err
			}
			token, err := svc.GenerateToken(accountID, username, roles)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account id the token acts for (required)")
	cmd.Flags().StringVar(&username, "username", "", "display name carried in the token")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role to grant, e.g. feeder or admin (repeatable)")
	cmd.Flags().DurationVar(&cfg.Expiration, "ttl", cfg.Expiration, "token lifetime")
	cmd.MarkFlagRequired("account")
	keyPathFlags(cmd, cfg)
	return cmd
}

func keyPathFlags(cmd *cobra.Command, cfg *auth.Config) {
	cmd.Flags().StringVar(&cfg.PrivateKeyPath, "private-key", cfg.PrivateKeyPath, "private key PEM path")
	cmd.Flags().StringVar(&cfg.PublicKeyPath, "public-key", cfg.PublicKeyPath, "public key PEM path")
}

func newMigrateCmd(openDB dbOpener) *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	migrate.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDB(openDB, func(ctx context.Context, cmd *cobra.Command, db *database.DB) error {
				if err := db.RunMigrations(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: withDB(openDB, func(ctx context.Context, cmd *cobra.Command, db *database.DB) error {
				status, err := db.GetMigrationStatus(ctx)
				if err != nil {
					return err
				}
				for _, st := range status {
					state := "pending"
					if st.AppliedAt != nil {
						state = "applied " + st.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%3d  %-32s %s\n", st.Version, st.Description, state)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "rollback",
			Short: "Revert the newest applied migration",
			Args:  cobra.NoArgs,
			RunE: withDB(openDB, func(ctx context.Context, cmd *cobra.Command, db *database.DB) error {
				if err := db.RollbackMigration(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back one migration")
				return nil
			}),
		},
	)
	return migrate
}

func newPaymentsCmd(openDB dbOpener) *cobra.Command {
	payments := &cobra.Command{
		Use:   "payments",
		Short: "Inspect stored payment methods",
	}

	var accountID string
	list := &cobra.Command{
		Use:   "list",
		Short: "Print an account's payment methods as JSON lines, default first",
		Args:  cobra.NoArgs,
		RunE: withDB(openDB, func(ctx context.Context, cmd *cobra.Command, db *database.DB) error {
			methods, err := database.NewPaymentMethodRepository(db).ListByAccount(ctx, accountID)
			if err != nil {
				return err
			}
			for _, pm := range methods {
				line, err := pm.ToJSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		}),
	}
	list.Flags().StringVar(&accountID, "account", "", "account id (required)")
	list.MarkFlagRequired("account")

	payments.AddCommand(list)
	return payments
}

// withDB opens the database for one command and closes it afterwards.
func withDB(openDB dbOpener, run func(ctx context.Context, cmd *cobra.Command, db *database.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()
		return run(ctx, cmd, db)
	}
}
