package synth

import (
	"context"
)

// MockBackend is a scriptable backend for tests and dry-run deployments.
type MockBackend struct {
	Cap   Capability
	Calls int
	Fn    func(ctx context.Context, req Request) (Result, error)
}

func NewMockBackend(cap Capability, fn func(ctx context.Context, req Request) (Result, error)) *MockBackend {
	return &MockBackend{Cap: cap, Fn: fn}
}

func (m *MockBackend) Capability() Capability { return m.Cap }

func (m *MockBackend) Synthesize(ctx context.Context, req Request) (Result, error) {
	m.Calls++
	return m.Fn(ctx, req)
}
