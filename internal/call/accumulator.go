package call

import (
	"strings"
	"sync"
	"time"
)

// Accumulator debounces final speech-recognition fragments into coherent
// utterances. Recognizers split a single spoken sentence into several
// "final" segments; the accumulator joins everything that arrives within
// one quiet window before dispatching.
type Accumulator struct {
	mu      sync.Mutex
	window  time.Duration
	pending []string
	timer   *time.Timer
	stopped bool

	// ready reports whether dispatch may run now. When it returns false
	// the fragments stay queued and the window re-arms.
	ready    func() bool
	dispatch func(utterance string)
}

// NewAccumulator builds an accumulator that calls dispatch with the joined
// utterance once the window elapses with ready reporting true.
func NewAccumulator(window time.Duration, ready func() bool, dispatch func(string)) *Accumulator {
	if window <= 0 {
		window = time.Second
	}
	return &Accumulator{
		window:   window,
		ready:    ready,
		dispatch: dispatch,
	}
}

// AddFinal queues a finalized fragment and restarts the quiet window.
func (a *Accumulator) AddFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.pending = append(a.pending, text)
	a.arm()
}

// Flush re-checks queued fragments without waiting for a new one. Called
// when a response finishes so fragments that arrived mid-turn dispatch.
func (a *Accumulator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped || len(a.pending) == 0 {
		return
	}
	a.arm()
}

// Stop cancels the window and discards queued fragments.
func (a *Accumulator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	a.pending = nil
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Pending returns the number of queued fragments.
func (a *Accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// arm restarts the window. Caller holds the lock.
func (a *Accumulator) arm() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.window, a.fire)
}

func (a *Accumulator) fire() {
	a.mu.Lock()
	if a.stopped || len(a.pending) == 0 {
		a.mu.Unlock()
		return
	}
	if a.ready != nil && !a.ready() {
		// A response is in flight. Keep the fragments and try again after
		// another window.
		a.timer = time.AfterFunc(a.window, a.fire)
		a.mu.Unlock()
		return
	}
	utterance := strings.Join(a.pending, " ")
	a.pending = nil
	a.mu.Unlock()

	a.dispatch(utterance)
}
