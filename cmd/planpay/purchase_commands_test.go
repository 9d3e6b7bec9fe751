package main

import (
	"testing"

	natspkg "github.com/eastern-cyber/planpay/service/nats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildEventMatcher(t *testing.T) {
	completed := &natspkg.PurchaseEvent{
		EventType:     natspkg.EventPurchaseCompleted,
		PurchaseID:    "abc-123",
		WalletAddress: "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
		PlanID:        "plan-a",
	}
	stepFailed := &natspkg.PurchaseEvent{
		EventType:     natspkg.EventStepFailed,
		PurchaseID:    "abc-123",
		Step:          "fee_split",
		StepStatus:    "failed",
		ErrorCategory: "insufficient_funds",
	}

	tests := []struct {
		name       string
		purchaseID string
		jqFilters  []string
		event      *natspkg.PurchaseEvent
		want       bool
	}{
		{
			name:  "no filters matches everything",
			event: completed,
			want:  true,
		},
		{
			name:       "purchase id match",
			purchaseID: "abc-123",
			event:      completed,
			want:       true,
		},
		{
			name:       "purchase id mismatch",
			purchaseID: "other",
			event:      completed,
			want:       false,
		},
		{
			name:      "jq filter on event type",
			jqFilters: []string{`.event_type == "purchase_completed"`},
			event:     completed,
			want:      true,
		},
		{
			name:      "jq filter rejects",
			jqFilters: []string{`.event_type == "purchase_completed"`},
			event:     stepFailed,
			want:      false,
		},
		{
			name: "all jq filters must match",
			jqFilters: []string{
				`.event_type == "step_failed"`,
				`.error_category == "insufficient_funds"`,
			},
			event: stepFailed,
			want:  true,
		},
		{
			name: "one failing filter rejects",
			jqFilters: []string{
				`.event_type == "step_failed"`,
				`.error_category == "user_rejected"`,
			},
			event: stepFailed,
			want:  false,
		},
		{
			name:      "contains expression",
			jqFilters: []string{`. | contains({purchase_id: "abc-123"})`},
			event:     completed,
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matcher, err := buildEventMatcher(tt.purchaseID, tt.jqFilters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, matcher(tt.event))
		})
	}
}

func TestBuildEventMatcher_InvalidFilter(t *testing.T) {
	_, err := buildEventMatcher("", []string{`.event_type ==`})
	assert.Error(t, err)
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy("yes"))
	assert.True(t, isTruthy(0))
	assert.True(t, isTruthy(map[string]interface{}{}))
}
