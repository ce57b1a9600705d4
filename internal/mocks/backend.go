package mocks

import (
	"context"
	"net/netip"

	"github.com/stretchr/testify/mock"

	"github.com/lc/sift/internal/backend"
)

var _ backend.Backend = (*MockBackend)(nil)

// MockBackend is a testify mock of the backend.Backend interface.
type MockBackend struct {
	mock.Mock
	name string
}

// NewMockBackend returns a MockBackend reporting name.
func NewMockBackend(name string) *MockBackend {
	return &MockBackend{name: name}
}

// Name returns the name given to NewMockBackend.
func (m *MockBackend) Name() string {
	return m.name
}

// Query mocks the Query method.
func (m *MockBackend) Query(ctx context.Context, domain string) ([]netip.Addr, error) {
	args := m.Called(ctx, domain)
	var addrs []netip.Addr
	if args.Get(0) != nil {
		addrs = args.Get(0).([]netip.Addr)
	}
	return addrs, args.Error(1)
}
