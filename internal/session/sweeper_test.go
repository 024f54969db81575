package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/sessiond/internal/event"
)

func TestSweeper_SweepOnce(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(newTestStore(t), 10, WithClock(clock.Now))
	ctx := context.Background()

	bus := event.NewBus()
	var mu sync.Mutex
	var warnings []event.SessionExpiringEvent
	bus.Subscribe(event.KindSessionExpiring, func(ev event.Event) {
		mu.Lock()
		defer mu.Unlock()
		warnings = append(warnings, ev.(event.SessionExpiringEvent))
	})

	sw := NewSweeper(reg, bus, SweepConfig{
		IdleExpiry:    30 * time.Minute,
		ExpiryWarning: 5 * time.Minute,
		Interval:      time.Second,
	}, nil)

	s, _ := reg.GetOrCreate(ctx, "s1")

	clock.Advance(20 * time.Minute)
	if warned, expired := sw.SweepOnce(ctx); len(warned) != 0 || len(expired) != 0 {
		t.Fatalf("at 20m: warned=%v expired=%v", warned, expired)
	}

	clock.Advance(6 * time.Minute)
	warned, _ := sw.SweepOnce(ctx)
	if len(warned) != 1 || warned[0] != "s1" {
		t.Fatalf("at 26m: warned=%v, want [s1]", warned)
	}
	if len(warnings) != 1 || warnings[0].SessionID() != "s1" || warnings[0].Remaining != 4*time.Minute {
		t.Fatalf("published warnings = %+v", warnings)
	}

	// Only one warning per idle period.
	clock.Advance(time.Minute)
	if warned, _ := sw.SweepOnce(ctx); len(warned) != 0 {
		t.Errorf("repeat warning at 27m: %v", warned)
	}

	// Touch re-arms the warning.
	s.Touch()
	clock.Advance(26 * time.Minute)
	if warned, _ := sw.SweepOnce(ctx); len(warned) != 1 {
		t.Errorf("after touch: warned=%v, want [s1]", warned)
	}

	clock.Advance(5 * time.Minute)
	if _, expired := sw.SweepOnce(ctx); len(expired) != 1 || expired[0] != "s1" {
		t.Fatalf("expired=%v, want [s1]", expired)
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d after expiry", reg.Len())
	}
}

func TestSweeper_Disabled(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(nil, 10, WithClock(clock.Now))
	if _, err := reg.GetOrCreate(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}

	sw := NewSweeper(reg, nil, SweepConfig{}, nil)
	clock.Advance(365 * 24 * time.Hour)
	if warned, expired := sw.SweepOnce(context.Background()); warned != nil || expired != nil {
		t.Errorf("disabled sweeper acted: warned=%v expired=%v", warned, expired)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sw.Run(ctx); err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestSweeper_NoBusStillExpires(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(nil, 10, WithClock(clock.Now))
	if _, err := reg.GetOrCreate(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}

	sw := NewSweeper(reg, nil, SweepConfig{IdleExpiry: time.Minute, ExpiryWarning: 30 * time.Second}, nil)
	clock.Advance(2 * time.Minute)
	warned, expired := sw.SweepOnce(context.Background())
	if len(warned) != 0 || len(expired) != 1 {
		t.Errorf("warned=%v expired=%v", warned, expired)
	}
}
