package service

import (
	"context"
	"testing"
	"time"

	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports/mocks"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"
)

func TestAuditService_Log_PersistsToRepo(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(mockRepo, newTestLogger())

	done := make(chan struct{})
	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, log *domain.AuditLog) error {
			if log.Action != domain.AuditActionDeposit {
				t.Errorf("expected DEPOSIT, got %s", log.Action)
			}
			if ctx.Err() != nil {
				t.Errorf("write context already done: %v", ctx.Err())
			}
			close(done)
			return nil
		},
	)

	// A cancelled request context must not abort the write.
	reqCtx, cancel := context.WithCancel(context.Background())
	actorID := uuid.New()
	svc.Log(reqCtx, &domain.AuditLog{
		ID:           uuid.New(),
		ActorID:      &actorID,
		Action:       domain.AuditActionDeposit,
		ResourceType: "wallet",
		ResourceID:   uuid.New().String(),
		IPAddress:    "127.0.0.1",
		CreatedAt:    time.Now(),
	})
	cancel()

	select {
	case <-done:
		// OK
	case <-time.After(2 * time.Second):
		t.Fatal("audit log not persisted in time")
	}
}

func TestAuditService_Log_NilRepo(t *testing.T) {
	svc := NewAuditService(nil, newTestLogger())

	// Should not panic
	svc.Log(context.Background(), &domain.AuditLog{
		ID:           uuid.New(),
		Action:       domain.AuditActionStake,
		ResourceType: "partnership",
		IPAddress:    "127.0.0.1",
		CreatedAt:    time.Now(),
	})

	time.Sleep(50 * time.Millisecond) // let goroutine run
}
