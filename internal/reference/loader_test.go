package reference

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRef(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(relPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o750))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o600))
}

func seedHuman(t *testing.T, root string) {
	t.Helper()
	writeRef(t, root, "human/genome/hg38.sig", "genome-payload")
	writeRef(t, root, "human/y_chr/chrY.sig", "ychr-payload")
	writeRef(t, root, "human/genome/specific_chrs/1.sig", "chr1-payload")
	writeRef(t, root, "human/genome/specific_chrs/X.sig", "chrX-payload")
	writeRef(t, root, "human/amplicons/exome.sig", "amplicon-payload")
}

func TestLoadFromDirectory(t *testing.T) {
	root := t.TempDir()
	seedHuman(t, root)

	loader := NewLoader(&dirFetcher{root: root})
	bundle, err := loader.Load(context.Background(), Selection{
		Species:     "human",
		Genome:      "hg38",
		YChromosome: "chrY",
		Amplicon:    "exome",
		Chromosomes: []string{"1", "X"},
	})
	require.NoError(t, err)

	assert.Equal(t, "genome-payload", bundle.GenomeSig)
	assert.Equal(t, "ychr-payload", bundle.YChrSig)
	assert.Equal(t, "amplicon-payload", bundle.AmpliconSig)
	assert.Equal(t, map[string]string{"1": "chr1-payload", "X": "chrX-payload"}, bundle.ChrSigs)
	assert.False(t, bundle.LoadedAt.IsZero())
	assert.Same(t, bundle, loader.Bundle())
}

func TestLoadMissingPayloadLeavesStateUntouched(t *testing.T) {
	root := t.TempDir()
	writeRef(t, root, "human/genome/hg38.sig", "genome-payload")
	// y chromosome payload intentionally absent

	loader := NewLoader(&dirFetcher{root: root})
	_, err := loader.Load(context.Background(), Selection{
		Species: "human", Genome: "hg38", YChromosome: "chrY",
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, loader.Bundle())
}

func TestLoadRejectsSecondBundle(t *testing.T) {
	root := t.TempDir()
	seedHuman(t, root)

	loader := NewLoader(&dirFetcher{root: root})
	sel := Selection{Species: "human", Genome: "hg38", YChromosome: "chrY"}
	_, err := loader.Load(context.Background(), sel)
	require.NoError(t, err)

	_, err = loader.Load(context.Background(), sel)
	assert.ErrorIs(t, err, ErrAlreadyLoaded)
}

func TestLoadValidatesSelection(t *testing.T) {
	loader := NewLoader(&dirFetcher{root: t.TempDir()})
	_, err := loader.Load(context.Background(), Selection{Species: "human"})
	assert.ErrorIs(t, err, ErrBadSelection)
}

func TestHTTPFetcherRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	fetcher := &httpFetcher{base: srv.URL, client: srv.Client()}
	body, err := fetcher.Fetch(context.Background(), "human/genome/hg38.sig")
	require.NoError(t, err)
	assert.Equal(t, "payload", body)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestHTTPFetcherNotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	fetcher := &httpFetcher{base: srv.URL, client: srv.Client()}
	_, err := fetcher.Fetch(context.Background(), "human/genome/none.sig")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewFetcherSelectsByScheme(t *testing.T) {
	f, err := NewFetcher("/var/lib/snipeqc/reference", "")
	require.NoError(t, err)
	assert.IsType(t, &dirFetcher{}, f)

	f, err = NewFetcher("https://refs.example.org/data", "")
	require.NoError(t, err)
	assert.IsType(t, &httpFetcher{}, f)

	_, err = NewFetcher("reference", "not-a-redis-url")
	assert.Error(t, err)
}
