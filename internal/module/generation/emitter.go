package generation

import "sync"

// Emitter is a single-producer ordered progress channel. Events reach the
// consumer in emission order; progress values are clamped so they never
// decrease within a run, except for the error stage which reports zero.
type Emitter struct {
	ch chan ProgressEvent

	mu     sync.Mutex
	closed bool
	last   int
}

// NewEmitter sizes the event buffer. The producer blocks once the
// consumer falls that far behind, which bounds memory per run.
func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 64
	}
	return &Emitter{ch: make(chan ProgressEvent, buffer)}
}

// Events is the consumer side. The channel closes after the terminal
// event has been emitted.
func (e *Emitter) Events() <-chan ProgressEvent {
	return e.ch
}

// Emit delivers one event. Emitting after Close is a no-op so late
// stragglers from abandoned work cannot panic the pipeline.
func (e *Emitter) Emit(ev ProgressEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if ev.Stage != StageError {
		if ev.Progress < e.last {
			ev.Progress = e.last
		}
		e.last = ev.Progress
	}
	e.ch <- ev
}

// Close ends the stream. Safe to call more than once.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}
