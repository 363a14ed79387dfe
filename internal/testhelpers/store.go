package testhelpers

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"mpesa-callback-service/internal/db"
)

// MemoryStore is an in-memory payment store for handler and service tests.
type MemoryStore struct {
	mu       sync.Mutex
	payments []*db.PaymentEntity

	// InsertErr and ListErr are returned instead of touching the stored rows.
	InsertErr error
	ListErr   error
	// Unique mimics RepositoryOptions.UniqueCheckoutRequestID.
	Unique bool
}

func (s *MemoryStore) Insert(_ context.Context, entity *db.PaymentEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.InsertErr != nil {
		return s.InsertErr
	}
	if s.Unique {
		for _, p := range s.payments {
			if p.CheckoutRequestID == entity.CheckoutRequestID {
				return db.ErrDuplicatePayment
			}
		}
	}

	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now()
	}

	stored := *entity
	s.payments = append(s.payments, &stored)
	return nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]*db.PaymentEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := make([]*db.PaymentEntity, len(s.payments))
	copy(out, s.payments)
	return out, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}
