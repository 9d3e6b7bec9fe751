package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/eastern-cyber/planpay/service/config"
	"github.com/eastern-cyber/planpay/service/rate"
	"github.com/urfave/cli/v2"
)

func rateCommand() *cli.Command {
	return &cli.Command{
		Name:  "rate",
		Usage: "Fetch the current exchange rate from the configured feeds",
		Description: `Try each price feed in order and print the first usable rate. Feeds
are url|expr pairs where expr is a jq expression extracting the rate
from the response body.

Example:
  planpay rate --feed 'https://api.example.com/price|.data.rate' --buffer 0.25`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "feed",
				Usage:   "Price feed as url|expr (repeatable, tried in order)",
				EnvVars: []string{"RATE_FEEDS"},
			},
			&cli.Float64Flag{
				Name:  "buffer",
				Usage: "Safety buffer subtracted from the raw rate",
				Value: 0.25,
			},
			&cli.Float64Flag{
				Name:  "fallback",
				Usage: "Constant rate used when every feed fails",
				Value: 4.35,
			},
		},
		Action: func(c *cli.Context) error {
			var feeds []config.RateFeed
			for _, entry := range c.StringSlice("feed") {
				// EnvVars delivers a single comma-separated string.
				for _, part := range strings.Split(entry, ",") {
					part = strings.TrimSpace(part)
					if part == "" {
						continue
					}
					pieces := strings.SplitN(part, "|", 2)
					if len(pieces) != 2 || pieces[0] == "" || pieces[1] == "" {
						return fmt.Errorf("invalid feed %q: expected url|expr", part)
					}
					feeds = append(feeds, config.RateFeed{URL: pieces[0], Expr: pieces[1]})
				}
			}
			if len(feeds) == 0 {
				return fmt.Errorf("at least one --feed is required (or set RATE_FEEDS)")
			}

			provider, err := rate.NewProvider(feeds, c.Float64("buffer"), c.Float64("fallback"), cliLogger(), nil)
			if err != nil {
				return fmt.Errorf("failed to create rate provider: %w", err)
			}

			current := provider.Current(context.Background())

			if c.Bool("json") {
				return outputJSON(current)
			}

			fmt.Printf("Source:   %s\n", current.Source)
			fmt.Printf("Raw:      %s\n", current.Raw.String())
			fmt.Printf("Adjusted: %s\n", current.Adjusted.String())
			if current.Fallback {
				fmt.Println("Fallback: yes (every feed failed)")
			}
			return nil
		},
	}
}
