package sig

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sigJSON(t *testing.T, name string, ksize int, mins, abundances []uint64) string {
	t.Helper()
	entry := map[string]any{
		"ksize":    ksize,
		"mins":     mins,
		"md5sum":   "0123456789abcdef",
		"max_hash": uint64(math.MaxUint64),
	}
	if abundances != nil {
		entry["abundances"] = abundances
	}
	doc := []map[string]any{{
		"class":      "sourmash_signature",
		"name":       name,
		"signatures": []any{entry},
	}}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(data)
}

func TestParseJSON(t *testing.T) {
	content := sigJSON(t, "sample1", 51, []uint64{10, 20, 30}, []uint64{1, 2, 3})

	s, err := ParseJSON(content, 51)
	require.NoError(t, err)
	assert.Equal(t, "sample1", s.Name)
	assert.Equal(t, 51, s.KSize)
	assert.Equal(t, uint64(1), s.Scale)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, uint64(6), s.TotalAbundance())
}

func TestParseJSONPreservesLargeHashes(t *testing.T) {
	// values above 2^53 are exact only when decoded as integers
	big := uint64(math.MaxUint64 - 1)
	content := fmt.Sprintf(
		`{"name":"big","signatures":[{"ksize":31,"mins":[%d],"abundances":[7],"max_hash":%d}]}`,
		big, uint64(math.MaxUint64))

	s, err := ParseJSON(content, 31)
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, uint64(7), s.TotalAbundance())
	inter := s.Intersect(New("probe", 31, 1, []uint64{big}, []uint64{1}))
	assert.Equal(t, 1, inter.Len())
}

func TestParseJSONMissingKSize(t *testing.T) {
	content := sigJSON(t, "s", 31, []uint64{1}, []uint64{1})
	_, err := ParseJSON(content, 51)
	assert.ErrorIs(t, err, ErrKSizeNotFound)
}

func TestParseJSONLengthMismatch(t *testing.T) {
	content := sigJSON(t, "s", 51, []uint64{1, 2}, []uint64{1})
	_, err := ParseJSON(content, 51)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestParseJSONInvalid(t *testing.T) {
	_, err := ParseJSON("not json at all", 51)
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestParseJSONFlatSignatureDefaultsAbundance(t *testing.T) {
	content := sigJSON(t, "flat", 51, []uint64{5, 6}, nil)
	s, err := ParseJSON(content, 51)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.TotalAbundance())
	assert.Equal(t, float64(1), s.MeanAbundance())
}

func TestIntersectAndSubtract(t *testing.T) {
	a := New("a", 51, 1, []uint64{1, 2, 3, 5}, []uint64{10, 20, 30, 50})
	b := New("b", 51, 1, []uint64{2, 3, 4}, []uint64{1, 1, 1})

	inter := a.Intersect(b)
	assert.Equal(t, 2, inter.Len())
	assert.Equal(t, uint64(50), inter.TotalAbundance()) // keeps a's abundances

	diff := a.Subtract(b)
	assert.Equal(t, 2, diff.Len())
	assert.Equal(t, uint64(60), diff.TotalAbundance())
}

func TestMedianAndTrim(t *testing.T) {
	s := New("s", 51, 1, []uint64{1, 2, 3, 4}, []uint64{1, 2, 8, 9})
	assert.InDelta(t, 5.0, s.MedianAbundance(), 1e-9)

	trimmed, err := s.MedianTrim()
	require.NoError(t, err)
	assert.Equal(t, 2, trimmed.Len())
	assert.Equal(t, uint64(17), trimmed.TotalAbundance())
}

func TestSumAddsSharedAbundances(t *testing.T) {
	a := New("a", 51, 1, []uint64{1, 3}, []uint64{2, 2})
	b := New("b", 51, 1, []uint64{3, 4}, []uint64{5, 1})

	sum, err := Sum(a, b)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Len())
	assert.Equal(t, uint64(10), sum.TotalAbundance())
}

func TestSumRejectsIncompatible(t *testing.T) {
	a := New("a", 51, 1, []uint64{1}, []uint64{1})
	b := New("b", 31, 1, []uint64{1}, []uint64{1})
	_, err := Sum(a, b)
	assert.ErrorIs(t, err, ErrIncompatibleSigs)
}

func TestCountAbundance(t *testing.T) {
	s := New("s", 51, 1, []uint64{1, 2, 3}, []uint64{1, 1, 4})
	assert.Equal(t, 2, s.CountAbundance(1))
}

func TestSplitRandomlyConservesMass(t *testing.T) {
	s := New("s", 51, 1,
		[]uint64{1, 2, 3, 4, 5},
		[]uint64{7, 3, 12, 1, 9})
	rng := rand.New(rand.NewSource(7))

	parts := s.SplitRandomly(5, rng)
	require.Len(t, parts, 5)

	var total uint64
	for _, p := range parts {
		total += p.TotalAbundance()
		assert.True(t, s.Compatible(p))
	}
	assert.Equal(t, s.TotalAbundance(), total)

	merged, err := Sum(parts...)
	require.NoError(t, err)
	assert.Equal(t, s.hashes, merged.hashes)
	assert.Equal(t, s.abundances, merged.abundances)
}

func TestSplitRandomlyBalancesParts(t *testing.T) {
	s := New("s", 51, 1, []uint64{1, 2}, []uint64{5, 6})
	rng := rand.New(rand.NewSource(1))

	parts := s.SplitRandomly(3, rng)
	// 11 units round-robin into 3 parts: sizes 4, 4, 3
	assert.Equal(t, uint64(4), parts[0].TotalAbundance())
	assert.Equal(t, uint64(4), parts[1].TotalAbundance())
	assert.Equal(t, uint64(3), parts[2].TotalAbundance())
}
