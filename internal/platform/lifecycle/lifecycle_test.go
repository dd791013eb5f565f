package lifecycle

import (
	"context"
	"errors"
	"testing"
)

type fakeService struct {
	name        string
	startErr    error
	stopErr     error
	startCalled bool
	stopCalled  bool
	onStart     func()
	onStop      func()
}

func (f *fakeService) Name() string { return f.name }
func (f *fakeService) Start(ctx context.Context) error {
	f.startCalled = true
	if f.onStart != nil {
		f.onStart()
	}
	return f.startErr
}
func (f *fakeService) Stop(ctx context.Context) error {
	f.stopCalled = true
	if f.onStop != nil {
		f.onStop()
	}
	return f.stopErr
}

func TestManagerStartsInRegistrationOrder(t *testing.T) {
	var order []string
	a := &fakeService{name: "a", onStart: func() { order = append(order, "a") }}
	b := &fakeService{name: "b", onStart: func() { order = append(order, "b") }}

	m := NewManager()
	m.Register(a)
	m.Register(b)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected start order [a b], got %v", order)
	}
}

func TestManagerStopsInReverseOrder(t *testing.T) {
	var order []string
	a := &fakeService{name: "a", onStop: func() { order = append(order, "a") }}
	b := &fakeService{name: "b", onStop: func() { order = append(order, "b") }}

	m := NewManager()
	m.Register(a)
	m.Register(b)

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(order) != 2 || order[0] != "b" || order[1] != "a" {
		t.Fatalf("expected stop order [b a], got %v", order)
	}
}

func TestManagerStartStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	a := &fakeService{name: "a"}
	b := &fakeService{name: "b", startErr: boom}
	c := &fakeService{name: "c"}

	m := NewManager()
	m.Register(a)
	m.Register(b)
	m.Register(c)

	if err := m.Start(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected the first failing service's error, got %v", err)
	}
	if !a.startCalled || !b.startCalled {
		t.Fatalf("expected a and b to have been started")
	}
	if c.startCalled {
		t.Fatalf("expected c to never start once b failed")
	}
}

func TestManagerStopCollectsFirstErrorButStopsAll(t *testing.T) {
	firstErr := errors.New("first")
	secondErr := errors.New("second")
	a := &fakeService{name: "a", stopErr: firstErr}
	b := &fakeService{name: "b", stopErr: secondErr}

	m := NewManager()
	m.Register(a)
	m.Register(b)

	err := m.Stop(context.Background())
	if !errors.Is(err, secondErr) {
		t.Fatalf("expected the first-encountered error in reverse order (b's), got %v", err)
	}
	if !a.stopCalled || !b.stopCalled {
		t.Fatalf("expected both services to be stopped despite b's error")
	}
}
