package eventbus

import (
	"sync"
	"testing"

	"furitingoasis/soilstation/internal/command"
	"furitingoasis/soilstation/internal/logger"
)

func TestPublishOrder(t *testing.T) {
	b := New[int]("test", logger.Nop())
	var got []string
	b.Subscribe(func(v int) { got = append(got, "a") })
	b.Subscribe(func(v int) { got = append(got, "b") })

	b.Publish(1)
	b.Publish(2)

	want := []string{"a", "b", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New[string]("test", logger.Nop())
	calls := 0
	sub := b.Subscribe(func(string) { calls++ })
	b.Publish("x")
	sub.Unsubscribe()
	sub.Unsubscribe()
	b.Publish("y")
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if b.Len() != 0 {
		t.Errorf("Len = %d", b.Len())
	}
}

func TestUnsubscribeFromHandler(t *testing.T) {
	b := New[int]("test", logger.Nop())
	var sub *Subscription
	calls := 0
	sub = b.Subscribe(func(int) {
		calls++
		sub.Unsubscribe()
	})
	b.Publish(1)
	b.Publish(2)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	b := New[int]("test", logger.Nop())
	reached := false
	b.Subscribe(func(int) { panic("boom") })
	b.Subscribe(func(int) { reached = true })
	b.Publish(1)
	if !reached {
		t.Error("second handler not run")
	}
}

func TestConcurrentPublishersAreSerialized(t *testing.T) {
	b := New[int]("test", logger.Nop())
	var (
		mu     sync.Mutex
		inside int
		peak   int
		total  int
	)
	b.Subscribe(func(int) {
		mu.Lock()
		inside++
		if inside > peak {
			peak = inside
		}
		total++
		mu.Unlock()

		mu.Lock()
		inside--
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			b.Publish(v)
		}(i)
	}
	wg.Wait()
	if peak != 1 {
		t.Errorf("handler ran %d times concurrently", peak)
	}
	if total != 50 {
		t.Errorf("total = %d", total)
	}
}

func TestRouterIngest(t *testing.T) {
	r := NewRouter(logger.Nop())
	var cmds []command.Command
	var errs []*command.Error
	r.Commands.Subscribe(func(c command.Command) { cmds = append(cmds, c) })
	r.Errors.Subscribe(func(e *command.Error) { errs = append(errs, e) })

	r.Ingest([]byte(`{"name":"lamp","value":12}`))
	r.Ingest([]byte(`not json`))
	r.Ingest([]byte(`{"name":"all"}`))

	if len(cmds) != 2 || cmds[0] != command.NewLamp(12) || cmds[1] != command.NewReadAll() {
		t.Errorf("commands = %v", cmds)
	}
	if len(errs) != 1 || errs[0].Kind != command.MalformedJSON {
		t.Errorf("errors = %v", errs)
	}
}
