package telebirr

import (
	"context"
	"sync"

	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/pricing"
)

// Simulator is an in-memory provider for development. Payments stay pending
// until Settle or Fail is called for their reference.
type Simulator struct {
	mu       sync.Mutex
	payments map[string]checkout.MobileVerification
}

var _ checkout.MobileMoneyProvider = (*Simulator)(nil)

func NewSimulator() *Simulator {
	return &Simulator{payments: make(map[string]checkout.MobileVerification)}
}

// Settle records reference as paid for amount by payer.
func (s *Simulator) Settle(reference string, amount pricing.Amount, payer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[reference] = checkout.MobileVerification{
		Status:     checkout.MobilePaid,
		Amount:     amount,
		PayerPhone: payer,
	}
}

// Fail records reference as failed.
func (s *Simulator) Fail(reference string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[reference] = checkout.MobileVerification{Status: checkout.MobileFailed}
}

func (s *Simulator) Verify(_ context.Context, reference string) (*checkout.MobileVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.payments[reference]
	if !ok {
		return &checkout.MobileVerification{Status: checkout.MobilePending}, nil
	}
	return &v, nil
}
