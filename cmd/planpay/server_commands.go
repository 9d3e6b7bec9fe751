package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")

			httpClient := &http.Client{Timeout: 10 * time.Second}
			resp, err := httpClient.Get(serverURL + "/health")
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server unhealthy: status %d: %s", resp.StatusCode, string(body))
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{"status": "healthy", "server": serverURL})
			}
			fmt.Printf("✓ Server healthy: %s\n", serverURL)
			return nil
		},
	}
}
