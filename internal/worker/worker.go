// Package worker runs the compute engine on a single long-lived goroutine
// and relays typed events back over a channel. Requests queue FIFO on a
// buffered inbound channel and are processed one at a time to completion.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"snipeqc/internal/engine"
)

// State is the worker lifecycle. After Failed the worker never accepts
// another request; initialization failures are fatal for the session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateBusy          State = "busy"
	StateFailed        State = "failed"
)

type EventKind string

const (
	EventReady    EventKind = "ready"
	EventError    EventKind = "error"
	EventProgress EventKind = "progress"
	EventResult   EventKind = "result"
)

// Event is the tagged union the worker emits. Kind selects which of the
// remaining fields are meaningful.
type Event struct {
	Kind       EventKind
	TaskID     string
	Percentage int
	StatusText string
	Err        string
	Record     *engine.Record
}

// Progress milestones for one request, matching what clients show while a
// multi-second computation runs.
const (
	milestoneReceived  = 10
	milestoneComputing = 60
	milestonePost      = 90
	milestoneDone      = 100
)

const statusFailed = "Failed"

var ErrUnavailable = errors.New("compute worker is not accepting requests")

const defaultQueueCapacity = 64

type Worker struct {
	eng      engine.Engine
	requests chan engine.Request
	events   chan Event

	mu    sync.RWMutex
	state State
}

func New(eng engine.Engine, queueCapacity int) *Worker {
	if queueCapacity < 1 {
		queueCapacity = defaultQueueCapacity
	}
	return &Worker{
		eng:      eng,
		requests: make(chan engine.Request, queueCapacity),
		// events are buffered past the queue so a slow consumer cannot
		// deadlock the compute loop mid-request
		events: make(chan Event, queueCapacity*8),
		state:  StateUninitialized,
	}
}

// Events is the outbound channel; closed when the worker stops.
func (w *Worker) Events() <-chan Event { return w.events }

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Submit enqueues a request in arrival order. It blocks while the queue is
// full and fails once the worker is unusable.
func (w *Worker) Submit(req engine.Request) error {
	if w.State() == StateFailed {
		return ErrUnavailable
	}
	w.requests <- req
	return nil
}

// Start launches the worker goroutine. Engine initialization happens first;
// a failure emits a fatal error event and leaves the worker in StateFailed.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.events)

	w.setState(StateInitializing)
	if err := w.eng.Init(ctx); err != nil {
		w.setState(StateFailed)
		log.Error().Err(err).Msg("engine initialization failed, worker unusable")
		w.emit(ctx, Event{Kind: EventError, Err: "Initialization error: " + err.Error()})
		return
	}
	w.setState(StateReady)
	log.Info().Msg("compute worker ready")
	w.emit(ctx, Event{Kind: EventReady})

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			w.process(ctx, req)
		}
	}
}

func (w *Worker) process(ctx context.Context, req engine.Request) {
	w.setState(StateBusy)
	defer w.setState(StateReady)

	w.progress(ctx, req.TaskID, milestoneReceived, "Received sample data")
	w.progress(ctx, req.TaskID, milestoneComputing, "Computing metrics")

	rec, err := w.eng.Process(ctx, req)
	if err != nil {
		log.Warn().Str("task_id", req.TaskID).Err(err).Msg("sample computation failed")
		w.emit(ctx, Event{
			Kind:       EventProgress,
			TaskID:     req.TaskID,
			Percentage: milestoneComputing,
			StatusText: statusFailed,
			Err:        err.Error(),
		})
		return
	}

	w.progress(ctx, req.TaskID, milestonePost, "Post-processing")
	w.progress(ctx, req.TaskID, milestoneDone, "Done")
	w.emit(ctx, Event{Kind: EventResult, TaskID: req.TaskID, Record: rec})
	log.Info().Str("task_id", req.TaskID).Str("sample", req.SampleName).Msg("sample processed")
}

func (w *Worker) progress(ctx context.Context, taskID string, pct int, text string) {
	w.emit(ctx, Event{Kind: EventProgress, TaskID: taskID, Percentage: pct, StatusText: text})
}

func (w *Worker) emit(ctx context.Context, ev Event) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}
