package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	natspkg "github.com/eastern-cyber/planpay/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand streams purchase events for a wallet.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to purchase events for a wallet",
		ArgsUsage: "[wallet_address]",
		Description: `Subscribe to real-time purchase events published to NATS JetStream.

Events are published to the subject: plans.{wallet_address}. Omit the
wallet address to stream events for all wallets.

Example:
  planpay nats subscribe 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU --json`,
		Action: func(c *cli.Context) error {
			subject := natspkg.StreamSubjects
			if c.NArg() > 0 {
				subject = fmt.Sprintf("plans.%s", c.Args().Get(0))
			}

			jsonOutput := c.Bool("json")

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-shutdown
				cancel()
			}()

			if !jsonOutput {
				fmt.Printf("Streaming purchase events on %s (Ctrl-C to stop)...\n", subject)
			}

			return consumePurchaseEvents(ctx, c.String("nats-url"), subject, func(event *natspkg.PurchaseEvent) bool {
				if jsonOutput {
					data, _ := json.Marshal(event)
					fmt.Println(string(data))
				} else {
					fmt.Printf("[%s] %s purchase=%s step=%s status=%s\n",
						event.PublishedAt.Format("15:04:05"),
						event.EventType,
						event.PurchaseID,
						event.Step,
						event.StepStatus,
					)
				}
				return false // keep streaming
			})
		},
	}
}

// awaitPurchaseEvent blocks until an event for the wallet satisfies the
// matcher, the context expires, or the stream fails.
func awaitPurchaseEvent(ctx context.Context, natsURL, walletAddress string, matcher func(*natspkg.PurchaseEvent) bool) (*natspkg.PurchaseEvent, error) {
	subject := fmt.Sprintf("plans.%s", walletAddress)

	var matched *natspkg.PurchaseEvent
	err := consumePurchaseEvents(ctx, natsURL, subject, func(event *natspkg.PurchaseEvent) bool {
		if matcher(event) {
			matched = event
			return true
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	if matched == nil {
		return nil, fmt.Errorf("no matching event before deadline")
	}
	return matched, nil
}

// consumePurchaseEvents feeds decoded events to handle until it returns true
// or the context is done.
func consumePurchaseEvents(ctx context.Context, natsURL, subject string, handle func(*natspkg.PurchaseEvent) bool) error {
	nc, err := nats.Connect(natsURL, nats.Name("planpay-cli"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	msgChan := make(chan jetstream.Msg, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case msgChan <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgChan:
			var event natspkg.PurchaseEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				msg.Ack()
				continue
			}
			msg.Ack()
			if handle(&event) {
				return nil
			}
		}
	}
}
