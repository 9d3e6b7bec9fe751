package main

import (
	"context"
	"fmt"
	"time"

	"github.com/eastern-cyber/planpay/service/temporal"
	"github.com/urfave/cli/v2"
)

func temporalCommands() *cli.Command {
	return &cli.Command{
		Name:  "temporal",
		Usage: "Temporal schedule management commands",
		Subcommands: []*cli.Command{
			createReconcileScheduleCommand(),
			deleteReconcileScheduleCommand(),
		},
	}
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("task-queue"),
		cliLogger(),
	)
}

func createReconcileScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "create-reconcile-schedule",
		Usage:     "Create or update the treasury reconciliation schedule",
		ArgsUsage: "TREASURY_WALLET",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "How often to reconcile",
				Value:   time.Hour,
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum signatures to scan per run",
				Value: 1000,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("treasury wallet address is required")
			}

			wallet := c.Args().Get(0)
			interval := c.Duration("interval")

			tc, err := getTemporalClient(c)
			if err != nil {
				return fmt.Errorf("failed to connect to temporal: %w", err)
			}
			defer tc.Close()

			err = tc.UpsertReconcileSchedule(context.Background(), temporal.ReconcileTreasuryInput{
				TreasuryWallet: wallet,
				Lookback:       2 * interval,
				Limit:          c.Int("limit"),
			}, interval)
			if err != nil {
				return fmt.Errorf("failed to upsert schedule: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"treasury_wallet": wallet,
					"interval":        interval.String(),
					"status":          "scheduled",
				})
			}
			fmt.Printf("✓ Reconcile schedule in place\n")
			fmt.Printf("  Treasury: %s\n", wallet)
			fmt.Printf("  Interval: %s\n", interval)
			return nil
		},
	}
}

func deleteReconcileScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete-reconcile-schedule",
		Usage:     "Delete the treasury reconciliation schedule",
		ArgsUsage: "TREASURY_WALLET",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("treasury wallet address is required")
			}

			wallet := c.Args().Get(0)
			tc, err := getTemporalClient(c)
			if err != nil {
				return fmt.Errorf("failed to connect to temporal: %w", err)
			}
			defer tc.Close()

			if err := tc.DeleteReconcileSchedule(context.Background(), wallet); err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}

			fmt.Printf("✓ Reconcile schedule deleted for %s\n", wallet)
			return nil
		},
	}
}
