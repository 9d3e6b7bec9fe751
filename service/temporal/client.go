package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eastern-cyber/planpay/service/payment"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal,
// and the HTTP layer's handle on running purchase workflows.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// purchaseWorkflowID returns the workflow ID for a purchase. One workflow
// per purchase ID; a second start with the same ID is rejected by Temporal.
func purchaseWorkflowID(purchaseID string) string {
	return "plan-purchase-" + purchaseID
}

// StartPurchase starts a purchase workflow and returns its run ID.
func (c *Client) StartPurchase(ctx context.Context, input PlanPurchaseInput) (string, error) {
	id := purchaseWorkflowID(input.PurchaseID)

	c.logger.Info("starting purchase workflow",
		"workflow_id", id,
		"wallet_address", input.WalletAddress,
		"plan_id", input.PlanID,
	)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    id,
		TaskQueue:             c.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
	}, PlanPurchaseWorkflow, input)
	if err != nil {
		return "", fmt.Errorf("failed to start purchase workflow %q: %w", id, err)
	}
	return run.GetRunID(), nil
}

// ConfirmPurchase signals the buyer's confirmation to a running purchase.
func (c *Client) ConfirmPurchase(ctx context.Context, purchaseID string) error {
	id := purchaseWorkflowID(purchaseID)
	if err := c.client.SignalWorkflow(ctx, id, "", SignalConfirm, nil); err != nil {
		return fmt.Errorf("failed to signal confirm to %q: %w", id, err)
	}
	return nil
}

// CancelPurchase signals a dismissal to a running purchase. The workflow
// decides whether the purchase is in a dismissible state.
func (c *Client) CancelPurchase(ctx context.Context, purchaseID string) error {
	id := purchaseWorkflowID(purchaseID)
	if err := c.client.SignalWorkflow(ctx, id, "", SignalCancel, nil); err != nil {
		return fmt.Errorf("failed to signal cancel to %q: %w", id, err)
	}
	return nil
}

// PurchaseStatus queries a purchase workflow for its current state.
func (c *Client) PurchaseStatus(ctx context.Context, purchaseID string) (*payment.PurchaseState, error) {
	id := purchaseWorkflowID(purchaseID)

	resp, err := c.client.QueryWorkflow(ctx, id, "", QueryStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", id, err)
	}

	var state payment.PurchaseState
	if err := resp.Get(&state); err != nil {
		return nil, fmt.Errorf("failed to decode status of %q: %w", id, err)
	}
	return &state, nil
}

// UpsertReconcileSchedule creates or updates the treasury reconciliation
// schedule. If the schedule already exists, only its interval is updated.
func (c *Client) UpsertReconcileSchedule(ctx context.Context, input ReconcileTreasuryInput, interval time.Duration) error {
	id := scheduleID(input.TreasuryWallet)

	c.logger.Debug("upserting reconcile schedule",
		"schedule_id", id,
		"interval", interval,
	)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	_, err := handle.Describe(ctx)
	if err != nil {
		// Schedule doesn't exist or error getting it - create new one
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)
		return c.createReconcileSchedule(ctx, input, interval)
	}

	err = handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(in client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			in.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &in.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("reconcile schedule updated", "schedule_id", id, "interval", interval)
	return nil
}

func (c *Client) createReconcileSchedule(ctx context.Context, input ReconcileTreasuryInput, interval time.Duration) error {
	id := scheduleID(input.TreasuryWallet)

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: id,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{
				{Every: interval},
			},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        "reconcile-" + input.TreasuryWallet,
			Workflow:  "ReconcileTreasuryWorkflow",
			TaskQueue: c.taskQueue,
			Args:      []interface{}{input},
		},
		Memo: map[string]interface{}{
			"treasury_wallet": input.TreasuryWallet,
			"created_by":      "planpay",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.Info("reconcile schedule created", "schedule_id", id, "interval", interval)
	return nil
}

// DeleteReconcileSchedule deletes the treasury reconciliation schedule.
func (c *Client) DeleteReconcileSchedule(ctx context.Context, treasuryWallet string) error {
	id := scheduleID(treasuryWallet)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("reconcile schedule deleted", "schedule_id", id)
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
