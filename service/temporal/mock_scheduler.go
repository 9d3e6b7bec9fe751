package temporal

import (
	"context"
	"sync"
	"time"
)

// MockScheduler is a test double for the Scheduler interface.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]time.Duration
	createErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]time.Duration),
	}
}

// UpsertReconcileSchedule records the schedule, or returns the configured error.
func (m *MockScheduler) UpsertReconcileSchedule(ctx context.Context, input ReconcileTreasuryInput, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.schedules[scheduleID(input.TreasuryWallet)] = interval
	return nil
}

// DeleteReconcileSchedule removes the schedule, or returns the configured error.
func (m *MockScheduler) DeleteReconcileSchedule(ctx context.Context, treasuryWallet string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.schedules, scheduleID(treasuryWallet))
	return nil
}

// SetUpsertError configures UpsertReconcileSchedule to fail.
func (m *MockScheduler) SetUpsertError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// SetDeleteError configures DeleteReconcileSchedule to fail.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// ScheduleExists reports whether a schedule exists for the treasury wallet.
func (m *MockScheduler) ScheduleExists(treasuryWallet string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.schedules[scheduleID(treasuryWallet)]
	return ok
}

// ScheduleInterval returns the recorded interval for the treasury wallet.
func (m *MockScheduler) ScheduleInterval(treasuryWallet string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	interval, ok := m.schedules[scheduleID(treasuryWallet)]
	return interval, ok
}

// Reset clears all recorded schedules and configured errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = make(map[string]time.Duration)
	m.createErr = nil
	m.deleteErr = nil
}
