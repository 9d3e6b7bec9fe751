package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/eastern-cyber/planpay/client"
	"github.com/urfave/cli/v2"
)

func memberCommands() *cli.Command {
	return &cli.Command{
		Name:  "member",
		Usage: "Member management commands",
		Subcommands: []*cli.Command{
			memberAddCommand(),
			memberGetCommand(),
			memberRemoveCommand(),
		},
	}
}

func cliLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func memberAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Aliases:   []string{"register"},
		Usage:     "Register a wallet as a member",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "referrer",
				Aliases: []string{"r"},
				Usage:   "Referrer wallet address",
			},
			&cli.StringFlag{
				Name:  "email",
				Usage: "Member email",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Member display name",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			address := c.Args().Get(0)
			cl := client.NewClient(c.String("server-url"), nil, cliLogger())

			member, err := cl.Register(context.Background(), address,
				optionalFlag(c, "referrer"),
				optionalFlag(c, "email"),
				optionalFlag(c, "name"),
			)
			if err != nil {
				return fmt.Errorf("failed to register member: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(member)
			}

			fmt.Printf("✓ Member registered\n")
			fmt.Printf("  Wallet: %s\n", member.WalletAddress)
			if member.Referrer != nil {
				fmt.Printf("  Referrer: %s\n", *member.Referrer)
			}
			return nil
		},
	}
}

func memberGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get member details",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			cl := client.NewClient(c.String("server-url"), nil, cliLogger())
			member, err := cl.GetMember(context.Background(), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get member: %w", err)
			}

			return outputJSON(member)
		},
	}
}

func memberRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm", "unregister"},
		Usage:     "Remove a member",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			address := c.Args().Get(0)
			cl := client.NewClient(c.String("server-url"), nil, cliLogger())

			if err := cl.Unregister(context.Background(), address); err != nil {
				return fmt.Errorf("failed to remove member: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{"wallet_address": address, "status": "removed"})
			}
			fmt.Printf("✓ Member removed: %s\n", address)
			return nil
		},
	}
}

func optionalFlag(c *cli.Context, name string) *string {
	v := c.String(name)
	if v == "" {
		return nil
	}
	return &v
}
