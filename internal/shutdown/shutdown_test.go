package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// mockShutdownable is a test implementation of Shutdownable
type mockShutdownable struct {
	closeCalled bool
	closeErr    error
	closeOrder  *[]string
	name        string
}

func (m *mockShutdownable) Close() error {
	m.closeCalled = true
	if m.closeOrder != nil {
		*m.closeOrder = append(*m.closeOrder, m.name)
	}
	return m.closeErr
}

func newTestCoordinator() *Coordinator {
	return New(5*time.Second, zerolog.Nop())
}

func TestClose_AllComponents(t *testing.T) {
	c := newTestCoordinator()

	a := &mockShutdownable{}
	b := &mockShutdownable{}
	c.Register("a", a, PriorityTransport)
	c.Register("b", b, PriorityTransport+10)

	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.closeCalled || !b.closeCalled {
		t.Error("expected all components to be closed")
	}
}

func TestClose_PriorityOrder(t *testing.T) {
	c := newTestCoordinator()

	var order []string
	c.Register("last", &mockShutdownable{name: "last", closeOrder: &order}, 20)
	c.Register("first", &mockShutdownable{name: "first", closeOrder: &order}, 10)

	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "last" {
		t.Errorf("expected [first last], got %v", order)
	}
}

func TestClose_ReturnsFirstError(t *testing.T) {
	c := newTestCoordinator()

	errFirst := errors.New("first failure")
	c.Register("a", &mockShutdownable{closeErr: errFirst}, 10)
	c.Register("b", &mockShutdownable{closeErr: errors.New("second failure")}, 20)

	if err := c.Close(); !errors.Is(err, errFirst) {
		t.Errorf("expected first error, got %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	c := newTestCoordinator()

	var order []string
	c.Register("once", &mockShutdownable{name: "once", closeOrder: &order}, 10)

	c.Close()
	c.Close()

	if len(order) != 1 {
		t.Errorf("expected exactly one close, got %d", len(order))
	}
}

func TestContext_CancelPropagates(t *testing.T) {
	c := newTestCoordinator()

	ctx, cancel := c.Context(context.Background())
	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected context to be cancelled")
	}
}
