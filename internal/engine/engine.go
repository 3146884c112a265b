// Package engine computes the per-sample QC metrics record from a sample
// signature and the loaded reference payloads.
package engine

import (
	"context"
	"errors"
)

var (
	// ErrInitialization marks a failure while preparing the engine.
	// Fatal for the session; the worker will not accept requests after it.
	ErrInitialization = errors.New("engine initialization failed")

	// ErrDataParse marks an undecodable sample or reference payload.
	// Terminal for the one request, the engine stays usable.
	ErrDataParse = errors.New("payload could not be decoded")

	// ErrComputation marks a metric computation failure.
	// Terminal for the one request, the engine stays usable.
	ErrComputation = errors.New("metric computation failed")
)

// Request carries everything one sample computation needs. It is built
// once at dispatch time and never mutated afterwards; reference payloads
// are the dispatcher's own snapshot.
type Request struct {
	TaskID      string            `json:"task_id"`
	SampleName  string            `json:"sample_name"`
	SampleSig   string            `json:"sample_sig"`
	GenomeSig   string            `json:"genome_sig"`
	YChrSig     string            `json:"y_chr_sig"`
	ChrSigs     map[string]string `json:"chr_sigs"`
	AmpliconSig string            `json:"amplicon_sig,omitempty"`
	Species     string            `json:"species"`
	Genome      string            `json:"genome"`
}

// Engine is the computation boundary. Process must be safe to call
// repeatedly from a single goroutine; implementations are not required to
// support concurrent calls.
type Engine interface {
	Init(ctx context.Context) error
	Process(ctx context.Context, req Request) (*Record, error)
}
