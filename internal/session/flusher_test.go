package session

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/Iron-Ham/sessiond/internal/errors"
)

func TestFlusher_FlushAll(t *testing.T) {
	store := &countingStore{Store: newTestStore(t)}
	reg := NewRegistry(store, 10)
	ctx := context.Background()

	var sessions []*Session
	for i := range 10 {
		s, err := reg.GetOrCreate(ctx, fmt.Sprintf("s%d", i))
		if err != nil {
			t.Fatal(err)
		}
		sessions = append(sessions, s)
	}
	createSaves := store.saves.Load()

	// Only half the sessions change.
	for _, s := range sessions[:5] {
		s.AddMessage(NewMessage(MessageInfo, "hello", nil))
	}

	f := NewFlusher(reg, time.Hour, 3, nil)
	saved, failed := f.FlushAll(ctx)
	if saved != 5 || failed != 0 {
		t.Errorf("FlushAll = %d saved, %d failed; want 5, 0", saved, failed)
	}
	if got := store.saves.Load() - createSaves; got != 5 {
		t.Errorf("store saves = %d, want 5", got)
	}
	for _, s := range sessions {
		if s.Dirty() {
			t.Errorf("%s still dirty", s.ID())
		}
	}

	if saved, _ := f.FlushAll(ctx); saved != 0 {
		t.Errorf("second FlushAll saved %d, want 0", saved)
	}

	st, err := store.Store.Load(ctx, "s0")
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Messages) != 1 {
		t.Errorf("persisted messages = %d, want 1", len(st.Messages))
	}
}

func TestFlusher_FailedSaveStaysDirty(t *testing.T) {
	store := &countingStore{Store: newTestStore(t)}
	reg := NewRegistry(store, 10)
	ctx := context.Background()

	s, err := reg.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	s.AddMessage(NewMessage(MessageInfo, "x", nil))

	store.saveErr = errors.NewStoreError("save", errors.ErrIOFailure, os.ErrPermission)
	f := NewFlusher(reg, time.Hour, 1, nil)
	if saved, failed := f.FlushAll(ctx); saved != 0 || failed != 1 {
		t.Fatalf("FlushAll = %d, %d; want 0, 1", saved, failed)
	}
	if !s.Dirty() {
		t.Fatal("session should stay dirty after a failed save")
	}

	store.saveErr = nil
	if saved, _ := f.FlushAll(ctx); saved != 1 {
		t.Errorf("retry saved %d, want 1", saved)
	}
}

func TestFlusher_RunFlushesOnShutdown(t *testing.T) {
	fs := newTestStore(t)
	reg := NewRegistry(fs, 10)
	ctx, cancel := context.WithCancel(context.Background())

	s, err := reg.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	s.AddMessage(NewMessage(MessageInfo, "pending", nil))

	done := make(chan error, 1)
	go func() { done <- NewFlusher(reg, time.Hour, 2, nil).Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	st, err := fs.Load(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Messages) != 1 {
		t.Errorf("persisted messages = %d, want 1", len(st.Messages))
	}
}

func TestFlusher_RunTicks(t *testing.T) {
	fs := newTestStore(t)
	reg := NewRegistry(fs, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := reg.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = NewFlusher(reg, 10*time.Millisecond, 1, nil).Run(ctx) }()

	s.AddMessage(NewMessage(MessageInfo, "tick", nil))
	deadline := time.Now().Add(5 * time.Second)
	for s.Dirty() {
		if time.Now().After(deadline) {
			t.Fatal("session was not flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
