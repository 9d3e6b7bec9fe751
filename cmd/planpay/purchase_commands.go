package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eastern-cyber/planpay/client"
	natspkg "github.com/eastern-cyber/planpay/service/nats"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func purchaseCommands() *cli.Command {
	return &cli.Command{
		Name:  "purchase",
		Usage: "Plan purchase commands",
		Subcommands: []*cli.Command{
			quoteCommand(),
			purchaseStartCommand(),
			purchaseConfirmCommand(),
			purchaseCancelCommand(),
			purchaseStatusCommand(),
			awaitCommand(),
		},
	}
}

func quoteCommand() *cli.Command {
	return &cli.Command{
		Name:      "quote",
		Usage:     "Price a plan for a wallet without starting a purchase",
		ArgsUsage: "WALLET_ADDRESS PLAN_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("wallet address and plan id are required")
			}

			cl := client.NewClient(c.String("server-url"), nil, cliLogger())
			quote, err := cl.Quote(context.Background(), c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("failed to get quote: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(quote)
			}

			fmt.Printf("Plan %s for %s\n", c.Args().Get(1), c.Args().Get(0))
			fmt.Printf("  Fiat fee:        %s THB\n", quote.FiatFee.String())
			fmt.Printf("  Adjusted rate:   %s", quote.AdjustedRate.String())
			if quote.RateFallback {
				fmt.Printf(" (fallback)")
			}
			fmt.Println()
			fmt.Printf("  Required tokens: %s\n", quote.RequiredTokens.String())
			fmt.Printf("  Bonus offset:    %s\n", quote.BonusOffset.String())
			fmt.Printf("  Net payment:     %s\n", quote.NetPayment.String())
			return nil
		},
	}
}

func purchaseStartCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start a plan purchase and print the invoice",
		ArgsUsage: "WALLET_ADDRESS PLAN_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("wallet address and plan id are required")
			}

			cl := client.NewClient(c.String("server-url"), nil, cliLogger())
			started, err := cl.StartPurchase(context.Background(), c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("failed to start purchase: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(started)
			}

			fmt.Printf("✓ Purchase started\n")
			fmt.Printf("  Purchase ID: %s\n", started.PurchaseID)
			fmt.Printf("  Net payment: %s\n", started.Quote.NetPayment.String())
			if started.Invoice != nil {
				fmt.Printf("  Pay to:      %s\n", started.Invoice.Recipient)
				fmt.Printf("  Solana Pay:  %s\n", started.Invoice.SolanaPayURL)
			}
			fmt.Printf("\nPay the invoice, then run: planpay purchase confirm %s\n", started.PurchaseID)
			return nil
		},
	}
}

func purchaseConfirmCommand() *cli.Command {
	return &cli.Command{
		Name:      "confirm",
		Usage:     "Confirm a purchase after paying the invoice",
		ArgsUsage: "PURCHASE_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("purchase id is required")
			}

			purchaseID := c.Args().Get(0)
			cl := client.NewClient(c.String("server-url"), nil, cliLogger())
			if err := cl.ConfirmPurchase(context.Background(), purchaseID); err != nil {
				return fmt.Errorf("failed to confirm purchase: %w", err)
			}

			fmt.Printf("✓ Purchase confirmed: %s\n", purchaseID)
			return nil
		},
	}
}

func purchaseCancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Aliases:   []string{"dismiss"},
		Usage:     "Cancel a purchase that has not been confirmed",
		ArgsUsage: "PURCHASE_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("purchase id is required")
			}

			purchaseID := c.Args().Get(0)
			cl := client.NewClient(c.String("server-url"), nil, cliLogger())
			if err := cl.CancelPurchase(context.Background(), purchaseID); err != nil {
				return fmt.Errorf("failed to cancel purchase: %w", err)
			}

			fmt.Printf("✓ Purchase cancelled: %s\n", purchaseID)
			return nil
		},
	}
}

func purchaseStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show purchase progress",
		ArgsUsage: "PURCHASE_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("purchase id is required")
			}

			cl := client.NewClient(c.String("server-url"), nil, cliLogger())
			status, err := cl.GetPurchase(context.Background(), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get purchase: %w", err)
			}

			return outputJSON(status)
		},
	}
}

func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Wait for a purchase event matching the given filters",
		ArgsUsage: "WALLET_ADDRESS",
		Description: `Subscribe to the purchase event stream for a wallet and wait for an
event that satisfies every filter. Events are JSON objects; --must-jq
filters run against the full event.

Example:
  planpay purchase await 7xKXtg... --must-jq '.event_type == "purchase_completed"' --timeout 5m`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq expression the event must satisfy (repeatable, all must match)",
			},
			&cli.StringFlag{
				Name:  "purchase-id",
				Usage: "Only match events for this purchase",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "How long to wait before giving up",
				Value:   5 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			address := c.Args().Get(0)
			purchaseID := c.String("purchase-id")
			jqFilters := c.StringSlice("must-jq")
			timeout := c.Duration("timeout")
			jsonOutput := c.Bool("json")

			matcher, err := buildEventMatcher(purchaseID, jqFilters)
			if err != nil {
				return err
			}

			if !jsonOutput {
				fmt.Printf("Waiting for purchase event on %s (timeout %s)...\n", address, timeout)
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			event, err := awaitPurchaseEvent(ctx, c.String("nats-url"), address, matcher)
			if err != nil {
				return err
			}

			return outputJSON(event)
		},
	}
}

// buildEventMatcher compiles the jq filters into a predicate over purchase
// events. All filters must evaluate to a truthy value for a match.
func buildEventMatcher(purchaseID string, jqFilters []string) (func(*natspkg.PurchaseEvent) bool, error) {
	compiled := make([]*gojq.Code, len(jqFilters))
	for i, filter := range jqFilters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}

	return func(event *natspkg.PurchaseEvent) bool {
		if purchaseID != "" && event.PurchaseID != purchaseID {
			return false
		}

		if len(compiled) == 0 {
			return true
		}

		// Round-trip through JSON so jq sees the wire representation.
		raw, err := json.Marshal(event)
		if err != nil {
			return false
		}
		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return false
		}

		for _, code := range compiled {
			iter := code.Run(doc)
			v, ok := iter.Next()
			if !ok {
				return false
			}
			if _, isErr := v.(error); isErr {
				return false
			}
			if !isTruthy(v) {
				return false
			}
		}
		return true
	}, nil
}

func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}
