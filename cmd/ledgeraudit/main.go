package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/internal/audit"
	"github.com/MarkoPoloResearchLab/dispatchledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/dispatchledger/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/dispatchledger/internal/telemetry"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	envPrefix = "LEDGERAUDIT"

	flagDatabaseURL = "database-url"
	flagOwnerType   = "owner-type"
	flagOwnerID     = "owner-id"
	flagEntryID     = "entry-id"
)

var errAuditFailed = errors.New("ledger audit found broken accounts")

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgeraudit: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "ledgeraudit",
		Short:         "Verify ledger hash chains and reverse entries",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, v)
		},
	}
	cmd.PersistentFlags().String(flagDatabaseURL, "", "postgres:// URL or sqlite path (required)")
	cmd.AddCommand(newVerifyCommand(v), newReverseCommand(v))
	return cmd
}

func newVerifyCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify every account, or one account when --owner-type/--owner-id are set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuditor(cmd.Context(), v, func(ctx context.Context, auditor *audit.Auditor) error {
				accounts, err := auditor.Accounts(ctx, v.GetString(flagOwnerType), v.GetString(flagOwnerID))
				if err != nil {
					return err
				}
				summary, err := auditor.Run(ctx, accounts)
				if err != nil {
					return err
				}
				if err := audit.WriteReport(cmd.OutOrStdout(), summary); err != nil {
					return err
				}
				if summary.Failed() > 0 {
					return fmt.Errorf("%w: %d of %d", errAuditFailed, summary.Failed(), len(summary.Findings))
				}
				return nil
			})
		},
	}
	cmd.Flags().String(flagOwnerType, "", "account owner type")
	cmd.Flags().String(flagOwnerID, "", "account owner id")
	return cmd
}

func newReverseCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reverse",
		Short: "Append an entry offsetting --entry-id on the given account",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, flagName := range []string{flagOwnerType, flagOwnerID, flagEntryID} {
				if strings.TrimSpace(v.GetString(flagName)) == "" {
					return fmt.Errorf("%s is required", flagName)
				}
			}
			return withAuditor(cmd.Context(), v, func(ctx context.Context, auditor *audit.Auditor) error {
				accounts, err := auditor.Accounts(ctx, v.GetString(flagOwnerType), v.GetString(flagOwnerID))
				if err != nil {
					return err
				}
				entry, err := auditor.Reverse(ctx, accounts[0], v.GetString(flagEntryID))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "reversal %s sequence=%d balance=%d\n", entry.EntryID, entry.Sequence, entry.RunningBalance.Int64())
				return err
			})
		},
	}
	cmd.Flags().String(flagOwnerType, "", "account owner type (required)")
	cmd.Flags().String(flagOwnerID, "", "account owner id (required)")
	cmd.Flags().String(flagEntryID, "", "entry to reverse (required)")
	return cmd
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if !v.IsSet(flagDatabaseURL) || strings.TrimSpace(v.GetString(flagDatabaseURL)) == "" {
		return fmt.Errorf("%s is required", flagDatabaseURL)
	}
	return nil
}

// withAuditor opens the ledger store, using the pgx pool for postgres URLs and gorm for sqlite.
func withAuditor(parent context.Context, v *viper.Viper, fn func(ctx context.Context, auditor *audit.Auditor) error) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	databaseURL := strings.TrimSpace(v.GetString(flagDatabaseURL))
	driver, _, err := gormstore.ResolveDriver(databaseURL)
	if err != nil {
		return err
	}

	var store ledger.Store
	switch driver {
	case gormstore.DriverPostgres:
		pool, connectErr := pgstore.Connect(ctx, databaseURL)
		if connectErr != nil {
			return connectErr
		}
		defer pool.Close()
		store = pgstore.New(pool)
	default:
		db, cleanup, _, openErr := gormstore.Open(ctx, databaseURL)
		if openErr != nil {
			return fmt.Errorf("database open: %w", openErr)
		}
		defer func() { _ = cleanup() }()
		store = gormstore.New(db).Ledger()
	}

	operationLogger := telemetry.NewOperationLogger(logger, nil)
	service, err := ledger.NewService(store, func() time.Time { return time.Now().UTC() }, ledger.WithOperationLogger(operationLogger))
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	auditor, err := audit.New(service, logger)
	if err != nil {
		return err
	}
	return fn(ctx, auditor)
}
