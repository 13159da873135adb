package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/coinledger/internal/catalogcache"
	"github.com/MarkoPoloResearchLab/coinledger/internal/catalogfile"
	"github.com/MarkoPoloResearchLab/coinledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	flagCatalogFile = "file"
	flagAuditUser   = "user"
)

// errAuditMismatch makes the audit command exit non-zero.
var errAuditMismatch = errors.New("stored balance does not match replayed ledger")

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			databaseURL, err := loadDatabaseURL(cmd, newViper())
			if err != nil {
				return err
			}
			gormDB, cleanup, _, err := openDatabase(cmd.Context(), databaseURL)
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			defer func() { _ = cleanup() }()
			if err := gormstore.Migrate(cmd.Context(), gormDB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newCatalogCommand() *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the purchasable content catalog",
	}
	loadCmd := &cobra.Command{
		Use:   "load",
		Short: "Upsert videos and series from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := newViper()
			databaseURL, err := loadDatabaseURL(cmd, v)
			if err != nil {
				return err
			}
			path, err := cmd.Flags().GetString(flagCatalogFile)
			if err != nil {
				return err
			}
			if strings.TrimSpace(path) == "" {
				return fmt.Errorf("--%s is required", flagCatalogFile)
			}
			items, err := catalogfile.LoadFile(path)
			if err != nil {
				return err
			}

			gormDB, cleanup, _, err := openDatabase(cmd.Context(), databaseURL)
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			defer func() { _ = cleanup() }()
			if err := gormstore.Migrate(cmd.Context(), gormDB); err != nil {
				return err
			}
			backing := gormstore.NewCatalog(gormDB)
			if err := backing.UpsertContent(cmd.Context(), items...); err != nil {
				return err
			}

			redisAddr := strings.TrimSpace(v.GetString(flagRedisAddr))
			if redisAddr != "" {
				if err := invalidateCachedCatalog(cmd, backing, redisAddr, items); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d catalog items\n", len(items))
			return nil
		},
	}
	loadCmd.Flags().String(flagCatalogFile, "", "path to the YAML catalog (required)")
	catalogCmd.AddCommand(loadCmd)
	return catalogCmd
}

// invalidateCachedCatalog drops the cached entries of every loaded item.
func invalidateCachedCatalog(cmd *cobra.Command, backing ledger.Catalog, redisAddr string, items []ledger.Content) error {
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() { _ = client.Close() }()
	cached, err := catalogcache.New(backing, catalogcache.NewRedisCache(client, 0), catalogcache.DefaultTTL, zap.NewNop())
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := cached.Invalidate(cmd.Context(), item); err != nil {
			return fmt.Errorf("invalidate %s: %w", item.Ref, err)
		}
	}
	return nil
}

func newAuditCommand() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Replay a user's ledger and compare it with the stored balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			databaseURL, err := loadDatabaseURL(cmd, newViper())
			if err != nil {
				return err
			}
			rawUser, err := cmd.Flags().GetString(flagAuditUser)
			if err != nil {
				return err
			}
			userID, err := ledger.NewUserID(rawUser)
			if err != nil {
				return err
			}
			gormDB, cleanup, _, err := openDatabase(cmd.Context(), databaseURL)
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			defer func() { _ = cleanup() }()

			service, err := ledger.NewService(gormstore.New(gormDB), func() time.Time { return time.Now().UTC() })
			if err != nil {
				return err
			}
			report, err := service.Audit(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user=%s stored=%d replayed=%d entries=%d\n",
				report.UserID, report.StoredBalance.Int64(), report.ReplayedBalance, report.EntryCount)
			if !report.Consistent() {
				return fmt.Errorf("%w: first divergent entry %s", errAuditMismatch, report.DivergentEntryID)
			}
			return nil
		},
	}
	auditCmd.Flags().String(flagAuditUser, "", "user id to audit (required)")
	return auditCmd
}
