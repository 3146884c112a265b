// Package reference loads and holds the per-session reference bundle: the
// genome, Y-chromosome and per-chromosome signatures a species selection
// resolves to, plus an optional amplicon panel.
package reference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotFound      = errors.New("reference payload not found")
	ErrAlreadyLoaded = errors.New("reference bundle already loaded for this session")
	ErrBadSelection  = errors.New("species, genome and y-chromosome are required")
)

// Selection names the reference payloads to resolve.
type Selection struct {
	Species     string   `json:"species"`
	Genome      string   `json:"genome"`
	YChromosome string   `json:"y_chromosome"`
	Amplicon    string   `json:"amplicon,omitempty"`
	Chromosomes []string `json:"chromosomes,omitempty"`
}

func (s Selection) genomePath() string {
	return s.Species + "/genome/" + s.Genome + ".sig"
}

func (s Selection) yChrPath() string {
	return s.Species + "/y_chr/" + s.YChromosome + ".sig"
}

func (s Selection) chromosomePath(chr string) string {
	return s.Species + "/genome/specific_chrs/" + chr + ".sig"
}

func (s Selection) ampliconPath() string {
	return s.Species + "/amplicons/" + s.Amplicon + ".sig"
}

// Bundle is the loaded reference set. Once adopted by a Loader it is never
// mutated, so dispatchers may share it across concurrent requests.
type Bundle struct {
	Selection
	GenomeSig   string
	YChrSig     string
	AmpliconSig string
	ChrSigs     map[string]string
	LoadedAt    time.Time
}

// Loader fetches and adopts exactly one Bundle per session. Swapping
// references under in-flight tasks is not supported; a second Load fails
// with ErrAlreadyLoaded.
type Loader struct {
	mu      sync.RWMutex
	fetcher Fetcher
	bundle  *Bundle
}

func NewLoader(fetcher Fetcher) *Loader {
	return &Loader{fetcher: fetcher}
}

// Bundle returns the adopted bundle, or nil before a successful Load.
func (l *Loader) Bundle() *Bundle {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bundle
}

// Load resolves the selection and adopts the resulting bundle. On any
// fetch failure the previously adopted state is left untouched.
func (l *Loader) Load(ctx context.Context, sel Selection) (*Bundle, error) {
	if sel.Species == "" || sel.Genome == "" || sel.YChromosome == "" {
		return nil, ErrBadSelection
	}
	if l.Bundle() != nil {
		log.Warn().
			Str("species", sel.Species).
			Str("genome", sel.Genome).
			Msg("rejecting reference load: bundle already adopted")
		return nil, ErrAlreadyLoaded
	}

	bundle := &Bundle{
		Selection: sel,
		ChrSigs:   make(map[string]string, len(sel.Chromosomes)),
	}

	var err error
	if bundle.GenomeSig, err = l.fetcher.Fetch(ctx, sel.genomePath()); err != nil {
		return nil, fmt.Errorf("genome: %w", err)
	}
	if bundle.YChrSig, err = l.fetcher.Fetch(ctx, sel.yChrPath()); err != nil {
		return nil, fmt.Errorf("y chromosome: %w", err)
	}
	if sel.Amplicon != "" {
		if bundle.AmpliconSig, err = l.fetcher.Fetch(ctx, sel.ampliconPath()); err != nil {
			return nil, fmt.Errorf("amplicon: %w", err)
		}
	}

	grp, grpCtx := errgroup.WithContext(ctx)
	var chrMu sync.Mutex
	for _, chr := range sel.Chromosomes {
		chr := chr
		grp.Go(func() error {
			payload, err := l.fetcher.Fetch(grpCtx, sel.chromosomePath(chr))
			if err != nil {
				return fmt.Errorf("chromosome %s: %w", chr, err)
			}
			chrMu.Lock()
			bundle.ChrSigs[chr] = payload
			chrMu.Unlock()
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	bundle.LoadedAt = time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.bundle != nil {
		return nil, ErrAlreadyLoaded
	}
	l.bundle = bundle
	log.Info().
		Str("species", sel.Species).
		Str("genome", sel.Genome).
		Int("chromosomes", len(bundle.ChrSigs)).
		Bool("amplicon", bundle.AmpliconSig != "").
		Msg("reference bundle adopted")
	return bundle, nil
}
