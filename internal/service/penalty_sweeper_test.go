package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"partnership-ledger/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestPenaltySweeper_SweepsUntilCancelled(t *testing.T) {
	ctrl := gomock.NewController(t)
	penalties := mocks.NewMockPenaltyService(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	penalties.EXPECT().ApplyPending(gomock.Any(), 25).DoAndReturn(func(context.Context, int) (int, error) {
		calls++
		switch calls {
		case 1:
			return 0, errors.New("db unavailable")
		case 2:
			return 1, nil
		default:
			cancel()
			return 0, nil
		}
	}).MinTimes(3)

	done := make(chan struct{})
	go func() {
		NewPenaltySweeper(penalties, time.Millisecond, 25, newTestLogger()).Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
	assert.GreaterOrEqual(t, calls, 3)
}

func TestPenaltySweeper_DisabledReturnsImmediately(t *testing.T) {
	ctrl := gomock.NewController(t)
	penalties := mocks.NewMockPenaltyService(ctrl)
	// No expectations: a disabled sweeper never calls the service.

	done := make(chan struct{})
	go func() {
		NewPenaltySweeper(penalties, 0, 10, newTestLogger()).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled sweeper kept running")
	}
}

func TestPenaltySweeper_DefaultBatch(t *testing.T) {
	s := NewPenaltySweeper(nil, time.Second, 0, newTestLogger())
	assert.Equal(t, 100, s.batch)
}

func TestPenaltySweeper_ClearsPendingPenalty(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, l.penalties.HandleViolationEvent(ctx, violationEvent(userID, "msg-sweep", 40)))

	l.deposit(t, userID, 100)
	NewPenaltySweeper(l.penalties, time.Second, 10, newTestLogger()).sweep(ctx)

	assert.Equal(t, int64(60), l.wallet(t, userID).AvailableBalance)
	l.requireConsistent(t, userID)
}
