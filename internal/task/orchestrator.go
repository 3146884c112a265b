// Package task owns the active sample registry and the dispatch path
// between uploads and the compute worker.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"snipeqc/internal/engine"
	fileutil "snipeqc/internal/file"
	"snipeqc/internal/intake"
	"snipeqc/internal/reference"
	"snipeqc/internal/worker"
)

// BundleSource exposes the session's adopted reference bundle.
type BundleSource interface {
	Bundle() *reference.Bundle
}

// Dispatcher accepts processing requests in FIFO order.
type Dispatcher interface {
	Submit(req engine.Request) error
}

// Presenter receives routed worker events for rendering. Events for
// removed task ids never reach it.
type Presenter interface {
	OnProgress(taskID string, percent int, text string)
	OnResult(taskID string, rec *engine.Record)
	Remove(taskID string)
}

// Orchestrator tracks every sample from intake to terminal state. It never
// blocks on the compute itself; worker events come back asynchronously
// through ConsumeEvents.
type Orchestrator struct {
	mu        sync.RWMutex
	samples   map[string]*Sample
	bundles   BundleSource
	worker    Dispatcher
	presenter Presenter
	store     SampleStore

	// injectable so tests can force serialization failures
	marshalRequest func(engine.Request) ([]byte, error)

	sessionErrMu sync.RWMutex
	sessionErr   string
}

func NewOrchestrator(bundles BundleSource, dispatcher Dispatcher, presenter Presenter, opts Options) *Orchestrator {
	store := opts.Store
	if store == nil {
		store = NewFileStore(opts.DataDir)
	}
	return &Orchestrator{
		samples:        make(map[string]*Sample),
		bundles:        bundles,
		worker:         dispatcher,
		presenter:      presenter,
		store:          store,
		marshalRequest: func(req engine.Request) ([]byte, error) { return json.Marshal(req) },
	}
}

// UseRequestMarshaler swaps the serialization guard. Test setup only.
func (o *Orchestrator) UseRequestMarshaler(fn func(engine.Request) ([]byte, error)) {
	o.mu.Lock()
	o.marshalRequest = fn
	o.mu.Unlock()
}

// Ingest expands an upload into registered samples. Raw payloads are kept
// in memory for dispatch and copied to the task directory best-effort.
func (o *Orchestrator) Ingest(filename string, content []byte) ([]*Sample, error) {
	entries, err := intake.Extract(filename, content)
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", filename, err)
	}

	samples := make([]*Sample, 0, len(entries))
	for _, entry := range entries {
		sample := &Sample{
			ID:          uuid.NewString(),
			DisplayName: entry.Name,
			RawContent:  string(entry.Content),
			Status:      StatusPending,
			StatusText:  "Pending",
			CreatedAt:   time.Now(),
		}
		o.mu.Lock()
		o.samples[sample.ID] = sample
		o.mu.Unlock()

		o.persist(sample)
		if err := fileutil.WriteFileAtomic(filepath.Join(o.store.SampleDir(sample.ID), "sample.sig"), entry.Content); err != nil {
			log.Warn().Str("task_id", sample.ID).Err(err).Msg("persist raw sample failed")
		}

		log.Info().Str("task_id", sample.ID).Str("sample", sample.DisplayName).Msg("sample registered")
		samples = append(samples, sample)
	}
	return samples, nil
}

// Dispatch snapshots the reference bundle into a processing request and
// hands it to the worker. The bundle must be fully loaded first; a
// serialization failure fails fast without touching the worker.
func (o *Orchestrator) Dispatch(taskID string) error {
	o.mu.RLock()
	sample, ok := o.samples[taskID]
	marshal := o.marshalRequest
	o.mu.RUnlock()
	if !ok {
		return ErrTaskNotFound
	}

	bundle := o.bundles.Bundle()
	if bundle == nil || bundle.GenomeSig == "" || bundle.YChrSig == "" {
		o.failSample(sample, "Failed: Genome not loaded", "reference bundle is not loaded")
		return ErrReferenceNotLoaded
	}

	chrSigs := make(map[string]string, len(bundle.ChrSigs))
	for name, payload := range bundle.ChrSigs {
		chrSigs[name] = payload
	}
	req := engine.Request{
		TaskID:      sample.ID,
		SampleName:  sample.DisplayName,
		SampleSig:   sample.RawContent,
		GenomeSig:   bundle.GenomeSig,
		YChrSig:     bundle.YChrSig,
		ChrSigs:     chrSigs,
		AmpliconSig: bundle.AmpliconSig,
		Species:     bundle.Species,
		Genome:      bundle.Genome,
	}

	if _, err := marshal(req); err != nil {
		o.failSample(sample, "Failed: malformed payload", err.Error())
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	o.mu.Lock()
	sample.Status = StatusRunning
	sample.StatusText = "Queued"
	o.mu.Unlock()
	o.persist(sample)

	if err := o.worker.Submit(req); err != nil {
		o.failSample(sample, "Failed: compute worker unavailable", err.Error())
		return fmt.Errorf("submit task %s: %w", taskID, err)
	}
	log.Info().Str("task_id", sample.ID).Msg("sample dispatched")
	return nil
}

// ConsumeEvents drains the worker's event channel until it closes or the
// context ends. Run it on its own goroutine.
func (o *Orchestrator) ConsumeEvents(ctx context.Context, events <-chan worker.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			o.handleEvent(ev)
		}
	}
}

func (o *Orchestrator) handleEvent(ev worker.Event) {
	switch ev.Kind {
	case worker.EventReady:
		log.Info().Msg("compute worker reported ready")
	case worker.EventError:
		log.Error().Str("error", ev.Err).Msg("session-fatal worker error")
		o.sessionErrMu.Lock()
		o.sessionErr = ev.Err
		o.sessionErrMu.Unlock()
	case worker.EventProgress:
		o.handleProgress(ev)
	case worker.EventResult:
		o.handleResult(ev)
	default:
		log.Warn().Str("kind", string(ev.Kind)).Msg("unknown worker event kind")
	}
}

func (o *Orchestrator) handleProgress(ev worker.Event) {
	o.mu.Lock()
	sample, ok := o.samples[ev.TaskID]
	if !ok {
		o.mu.Unlock()
		// sample was removed after dispatch; discarding the late event is
		// the documented behavior, not an error
		log.Debug().Str("task_id", ev.TaskID).Msg("progress for unknown task ignored")
		return
	}
	if ev.Err != "" {
		sample.Status = StatusFailed
		sample.StatusText = ev.StatusText
		sample.ErrorDetail = ev.Err
	} else {
		sample.Progress = ev.Percentage
		sample.StatusText = ev.StatusText
	}
	o.mu.Unlock()

	o.persist(sample)
	o.presenter.OnProgress(ev.TaskID, ev.Percentage, ev.StatusText)
}

func (o *Orchestrator) handleResult(ev worker.Event) {
	o.mu.Lock()
	sample, ok := o.samples[ev.TaskID]
	if !ok {
		o.mu.Unlock()
		log.Debug().Str("task_id", ev.TaskID).Msg("result for unknown task discarded")
		return
	}
	sample.Status = StatusCompleted
	sample.Progress = 100
	sample.StatusText = "Completed"
	o.mu.Unlock()

	o.persist(sample)
	o.presenter.OnResult(ev.TaskID, ev.Record)
}

// SessionError reports the fatal worker error, empty while the session is
// healthy.
func (o *Orchestrator) SessionError() string {
	o.sessionErrMu.RLock()
	defer o.sessionErrMu.RUnlock()
	return o.sessionErr
}

// Get returns a copy of the sample's current state so callers read it
// without racing the event loop.
func (o *Orchestrator) Get(taskID string) (*Sample, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	sample, ok := o.samples[taskID]
	if !ok {
		return nil, false
	}
	snapshot := *sample
	return &snapshot, true
}

// List returns copies of all samples ordered by creation time.
func (o *Orchestrator) List() []*Sample {
	o.mu.RLock()
	samples := make([]*Sample, 0, len(o.samples))
	for _, s := range o.samples {
		snapshot := *s
		samples = append(samples, &snapshot)
	}
	o.mu.RUnlock()
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].CreatedAt.Equal(samples[j].CreatedAt) {
			return samples[i].ID < samples[j].ID
		}
		return samples[i].CreatedAt.Before(samples[j].CreatedAt)
	})
	return samples
}

// Remove drops a sample from the registry and its presenter row. Removal
// is advisory: in-flight computation keeps running and its eventual
// events are discarded.
func (o *Orchestrator) Remove(taskID string) error {
	o.mu.Lock()
	_, ok := o.samples[taskID]
	if !ok {
		o.mu.Unlock()
		return ErrTaskNotFound
	}
	delete(o.samples, taskID)
	o.mu.Unlock()

	o.presenter.Remove(taskID)
	log.Info().Str("task_id", taskID).Msg("sample removed")
	return nil
}

// LoadFromDisk restores persisted snapshots. Samples that were not
// terminal when the process stopped are marked failed; their raw content
// is gone and they cannot be re-dispatched.
func (o *Orchestrator) LoadFromDisk() error {
	samples, err := o.store.LoadAll(context.Background())
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	for _, sample := range samples {
		if !sample.Status.Terminal() {
			sample.Status = StatusFailed
			sample.StatusText = "Failed: interrupted by restart"
			_ = o.store.Save(context.Background(), sample)
		}
		o.mu.Lock()
		o.samples[sample.ID] = sample
		o.mu.Unlock()
	}
	return nil
}

func (o *Orchestrator) failSample(sample *Sample, statusText, detail string) {
	o.mu.Lock()
	sample.Status = StatusFailed
	sample.StatusText = statusText
	sample.ErrorDetail = detail
	o.mu.Unlock()

	o.persist(sample)
	o.presenter.OnProgress(sample.ID, sample.Progress, statusText)
	log.Warn().Str("task_id", sample.ID).Str("detail", detail).Msg("sample failed before compute")
}

// persist snapshots the sample under the lock so the store never sees a
// half-updated struct if another goroutine is mutating it.
func (o *Orchestrator) persist(sample *Sample) {
	o.mu.RLock()
	snapshot := *sample
	o.mu.RUnlock()
	if err := o.store.Save(context.Background(), &snapshot); err != nil {
		log.Warn().Str("task_id", snapshot.ID).Err(err).Msg("persist sample failed")
	}
}
