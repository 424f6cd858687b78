package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/subflow/subflow/internal/billing"
	ierr "github.com/subflow/subflow/internal/errors"
)

// MockBillingProvider is a configurable in-memory billing.Provider. It records
// calls and returns deterministic ids, and can be told to fail per method.
type MockBillingProvider struct {
	mu sync.Mutex

	CustomerCalls     []billing.CustomerInput
	ProductCalls      []billing.ProductInput
	PriceCalls        []billing.PriceInput
	SubscriptionCalls []billing.SubscriptionInput
	UpdateCalls       map[string][]billing.UpdateSubscriptionInput
	CancelCalls       map[string]bool

	FailCustomer     bool
	FailProduct      bool
	FailPrice        bool
	FailSubscription bool
	FailUpdate       bool
	FailCancel       bool

	seq int
}

func NewMockBillingProvider() *MockBillingProvider {
	return &MockBillingProvider{
		UpdateCalls: make(map[string][]billing.UpdateSubscriptionInput),
		CancelCalls: make(map[string]bool),
	}
}

func (m *MockBillingProvider) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s_%06d", prefix, m.seq)
}

func (m *MockBillingProvider) fail(operation string) error {
	return ierr.NewError("billing provider call failed").
		WithHintf("Mock failure for %s", operation).
		Mark(ierr.ErrIntegration)
}

func (m *MockBillingProvider) CreateCustomer(ctx context.Context, in billing.CustomerInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CustomerCalls = append(m.CustomerCalls, in)
	if m.FailCustomer {
		return "", m.fail("create customer")
	}
	return m.nextID("cus"), nil
}

func (m *MockBillingProvider) CreateProduct(ctx context.Context, in billing.ProductInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ProductCalls = append(m.ProductCalls, in)
	if m.FailProduct {
		return "", m.fail("create product")
	}
	return m.nextID("prod"), nil
}

func (m *MockBillingProvider) CreatePrice(ctx context.Context, in billing.PriceInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PriceCalls = append(m.PriceCalls, in)
	if m.FailPrice {
		return "", m.fail("create price")
	}
	return m.nextID("price"), nil
}

func (m *MockBillingProvider) CreateSubscription(ctx context.Context, in billing.SubscriptionInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SubscriptionCalls = append(m.SubscriptionCalls, in)
	if m.FailSubscription {
		return "", m.fail("create subscription")
	}
	return m.nextID("sub"), nil
}

func (m *MockBillingProvider) UpdateSubscription(ctx context.Context, externalSubscriptionID string, in billing.UpdateSubscriptionInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpdateCalls[externalSubscriptionID] = append(m.UpdateCalls[externalSubscriptionID], in)
	if m.FailUpdate {
		return m.fail("update subscription")
	}
	return nil
}

func (m *MockBillingProvider) CancelSubscription(ctx context.Context, externalSubscriptionID string, atPeriodEnd bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CancelCalls[externalSubscriptionID] = atPeriodEnd
	if m.FailCancel {
		return m.fail("cancel subscription")
	}
	return nil
}

// Clear resets recorded calls and failure flags
func (m *MockBillingProvider) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CustomerCalls = nil
	m.ProductCalls = nil
	m.PriceCalls = nil
	m.SubscriptionCalls = nil
	m.UpdateCalls = make(map[string][]billing.UpdateSubscriptionInput)
	m.CancelCalls = make(map[string]bool)
	m.FailCustomer = false
	m.FailProduct = false
	m.FailPrice = false
	m.FailSubscription = false
	m.FailUpdate = false
	m.FailCancel = false
	m.seq = 0
}
