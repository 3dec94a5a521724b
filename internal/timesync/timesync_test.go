package timesync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"furitingoasis/soilstation/internal/logger"
)

func TestSyncOnceFallsBackToNextServer(t *testing.T) {
	var asked []string
	s := New(Config{Servers: []string{"a", "b"}, Timeout: time.Second}, logger.Nop()).
		WithQuery(func(host string, timeout time.Duration) (time.Duration, error) {
			asked = append(asked, host)
			if host == "a" {
				return 0, errors.New("kiss of death")
			}
			return 3 * time.Second, nil
		})
	fixed := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	if s.IsSynced() {
		t.Fatal("synced before any query")
	}
	if err := s.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if len(asked) != 2 {
		t.Errorf("asked %v", asked)
	}
	if !s.IsSynced() {
		t.Error("not marked synced")
	}
	if got := s.Now(); !got.Equal(fixed.Add(3 * time.Second)) {
		t.Errorf("Now = %s", got)
	}
	if s.Offset() != 3*time.Second || s.LastSync().IsZero() {
		t.Errorf("offset %s last %s", s.Offset(), s.LastSync())
	}
}

func TestSyncOnceAllFail(t *testing.T) {
	s := New(Config{Servers: []string{"a", "b"}}, logger.Nop()).
		WithQuery(func(string, time.Duration) (time.Duration, error) {
			return 0, errors.New("timeout")
		})
	if err := s.SyncOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	select {
	case <-s.Synced():
		t.Fatal("synced after failure")
	default:
	}
}

func TestSyncOnceNoServers(t *testing.T) {
	s := New(Config{}, logger.Nop())
	if err := s.SyncOnce(context.Background()); !errors.Is(err, ErrNoServers) {
		t.Errorf("err = %v", err)
	}
}

func TestRunRetriesUntilSynced(t *testing.T) {
	var calls atomic.Int32
	s := New(Config{Servers: []string{"a"}, MaxBackoff: 10 * time.Millisecond}, logger.Nop()).
		WithQuery(func(string, time.Duration) (time.Duration, error) {
			if calls.Add(1) < 2 {
				return 0, errors.New("unreachable")
			}
			return 0, nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	select {
	case <-s.Synced():
	case <-time.After(5 * time.Second):
		t.Fatal("never synced")
	}
	if calls.Load() < 2 {
		t.Errorf("calls = %d", calls.Load())
	}
}

func TestRunWithoutServersTrustsSystemClock(t *testing.T) {
	s := New(Config{}, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-s.Synced():
	case <-time.After(time.Second):
		t.Fatal("not synced")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v", err)
	}
}
