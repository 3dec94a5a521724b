package connectivity

import "sync"

// StatusSubscription receives true when the link becomes usable and false
// on every other transition. The first value is the state at subscription
// time. C is closed after Close.
type StatusSubscription struct {
	C <-chan bool

	out    chan bool
	wake   chan struct{}
	done   chan struct{}
	detach func()
	once   sync.Once

	mu    sync.Mutex
	queue []bool
}

func newStatusSubscription(detach func()) *StatusSubscription {
	out := make(chan bool)
	s := &StatusSubscription{
		C:      out,
		out:    out,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		detach: detach,
	}
	go s.run()
	return s
}

// push never blocks; values queue up until the reader catches up.
func (s *StatusSubscription) push(v bool) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *StatusSubscription) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}

func (s *StatusSubscription) Close() {
	s.once.Do(func() {
		s.detach()
		close(s.done)
	})
}
