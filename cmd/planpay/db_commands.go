package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/eastern-cyber/planpay/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply SQL migrations in order",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "Directory containing .sql migration files",
				Value:   "migrations",
			},
		},
		Action: func(c *cli.Context) error {
			dir := c.String("dir")

			pool, closer, err := getPool(c)
			if err != nil {
				return err
			}
			defer closer()

			entries, err := filepath.Glob(filepath.Join(dir, "*.sql"))
			if err != nil {
				return fmt.Errorf("failed to list migrations: %w", err)
			}
			if len(entries) == 0 {
				return fmt.Errorf("no .sql files found in %s", dir)
			}
			sort.Strings(entries)

			ctx := context.Background()
			for _, path := range entries {
				sql, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				if _, err := pool.Exec(ctx, string(sql)); err != nil {
					return fmt.Errorf("migration %s failed: %w", path, err)
				}
				fmt.Printf("applied %s\n", filepath.Base(path))
			}

			fmt.Fprintf(os.Stderr, "\nApplied %d migrations\n", len(entries))
			return nil
		},
	}
}

func listMembersCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-members",
		Usage:   "List all registered members",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			members, err := store.ListMembers(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list members: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(members)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WALLET\tNAME\tREFERRER\tCREATED")
			for _, m := range members {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					m.WalletAddress,
					formatOptional(m.Name),
					formatOptional(m.Referrer),
					m.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d members\n", len(members))
			return nil
		},
	}
}

func listPlansCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-plans",
		Usage:     "List settled plan purchases for a wallet",
		ArgsUsage: "<wallet_address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			address := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			plans, err := store.ListMemberPlansByWallet(context.Background(), address)
			if err != nil {
				return fmt.Errorf("failed to list plans: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(plans)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PURCHASE ID\tPLAN\tNET PAYMENT\tSTATUS\tAUDIT CID\tCREATED")
			for _, p := range plans {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					p.PurchaseID,
					p.PlanID,
					p.NetPayment.String(),
					p.Status,
					formatOptional(p.AuditCID),
					p.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d plans\n", len(plans))
			return nil
		},
	}
}

func bonusesCommand() *cli.Command {
	return &cli.Command{
		Name:      "bonuses",
		Usage:     "Show the bonus ledger for a wallet",
		ArgsUsage: "<wallet_address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			address := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			balance, err := store.GetBonusBalance(context.Background(), address)
			if err != nil {
				return fmt.Errorf("failed to get bonus balance: %w", err)
			}
			entries, err := store.ListBonuses(context.Background(), address)
			if err != nil {
				return fmt.Errorf("failed to list bonuses: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"wallet_address": address,
					"balance":        balance,
					"entries":        entries,
				})
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tAMOUNT\tSOURCE\tCREATED")
			for _, b := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
					b.ID,
					b.Amount.String(),
					b.Source,
					b.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nBalance: %s\n", balance.String())
			return nil
		},
	}
}

func getPool(c *cli.Context) (*pgxpool.Pool, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, func() { pool.Close() }, nil
}

func getStore(c *cli.Context) (*db.Store, func(), error) {
	pool, closer, err := getPool(c)
	if err != nil {
		return nil, nil, err
	}
	return db.NewStore(pool), closer, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "-"
}
