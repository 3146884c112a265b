// Package sig parses FracMinHash signature files and provides the set
// algebra the QC metrics are computed from. A signature is a sorted list
// of k-mer hashes with per-hash abundances.
package sig

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

const maxHashSpace = math.MaxUint64

var (
	ErrInvalidJSON      = errors.New("signature is not valid JSON")
	ErrKSizeNotFound    = errors.New("requested k-mer size not present in signature")
	ErrLengthMismatch   = errors.New("hash and abundance counts do not match")
	ErrEmptySignature   = errors.New("signature holds no hashes")
	ErrIncompatibleSigs = errors.New("signatures have different k-size or scale")
)

// Signature is an immutable parsed signature. Hashes are kept sorted
// ascending; abundances[i] belongs to hashes[i].
type Signature struct {
	Name  string
	KSize int
	Scale uint64
	MD5   string

	hashes     []uint64
	abundances []uint64
}

// sigFile and sigEntry mirror the on-disk layout: a list of records, each
// carrying one or more per-ksize signatures.
type sigFile struct {
	Name       string     `mapstructure:"name"`
	Signatures []sigEntry `mapstructure:"signatures"`
}

type sigEntry struct {
	KSize      int      `mapstructure:"ksize"`
	Mins       []uint64 `mapstructure:"mins"`
	Abundances []uint64 `mapstructure:"abundances"`
	MD5Sum     string   `mapstructure:"md5sum"`
	MaxHash    uint64   `mapstructure:"max_hash"`
}

// jsonNumberHook converts json.Number values into the integer types the
// entry structs expect. Hashes occupy the full uint64 range, so the input
// must be decoded with UseNumber to avoid float64 truncation.
func jsonNumberHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		num, ok := data.(json.Number)
		if !ok {
			return data, nil
		}
		switch to.Kind() {
		case reflect.Uint64:
			return strconv.ParseUint(num.String(), 10, 64)
		case reflect.Int:
			return strconv.Atoi(num.String())
		case reflect.Float64:
			return num.Float64()
		default:
			return data, nil
		}
	}
}

// ParseJSON extracts the signature with the given k-mer size from content.
// The top level may be a single record or a list of records.
func ParseJSON(content string, ksize int) (*Signature, error) {
	decoder := json.NewDecoder(strings.NewReader(content))
	decoder.UseNumber()

	var raw interface{}
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	records, ok := raw.([]interface{})
	if !ok {
		records = []interface{}{raw}
	}

	for _, rec := range records {
		var file sigFile
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook: jsonNumberHook(),
			Result:     &file,
		})
		if err != nil {
			return nil, fmt.Errorf("build decoder: %w", err)
		}
		if err := dec.Decode(rec); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		for _, entry := range file.Signatures {
			if entry.KSize != ksize {
				continue
			}
			return fromEntry(file.Name, entry)
		}
	}
	return nil, fmt.Errorf("%w: k=%d", ErrKSizeNotFound, ksize)
}

func fromEntry(name string, entry sigEntry) (*Signature, error) {
	if len(entry.Abundances) != 0 && len(entry.Mins) != len(entry.Abundances) {
		return nil, fmt.Errorf("%w: %d hashes, %d abundances",
			ErrLengthMismatch, len(entry.Mins), len(entry.Abundances))
	}
	abundances := entry.Abundances
	if len(abundances) == 0 {
		// flat signatures carry no abundance track; treat every hash as seen once
		abundances = make([]uint64, len(entry.Mins))
		for i := range abundances {
			abundances[i] = 1
		}
	}
	s := &Signature{
		Name:       name,
		KSize:      entry.KSize,
		MD5:        entry.MD5Sum,
		hashes:     entry.Mins,
		abundances: abundances,
	}
	if entry.MaxHash > 0 {
		s.Scale = maxHashSpace / entry.MaxHash
	}
	if !sort.SliceIsSorted(s.hashes, func(i, j int) bool { return s.hashes[i] < s.hashes[j] }) {
		sortPairs(s.hashes, s.abundances)
	}
	return s, nil
}

func sortPairs(hashes, abundances []uint64) {
	idx := make([]int, len(hashes))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return hashes[idx[a]] < hashes[idx[b]] })
	h := make([]uint64, len(hashes))
	ab := make([]uint64, len(abundances))
	for i, j := range idx {
		h[i] = hashes[j]
		ab[i] = abundances[j]
	}
	copy(hashes, h)
	copy(abundances, ab)
}

// New builds a signature from already sorted hash/abundance pairs.
// Intended for derived signatures and tests.
func New(name string, ksize int, scale uint64, hashes, abundances []uint64) *Signature {
	return &Signature{Name: name, KSize: ksize, Scale: scale, hashes: hashes, abundances: abundances}
}

func (s *Signature) Len() int { return len(s.hashes) }

func (s *Signature) Compatible(other *Signature) bool {
	return s.KSize == other.KSize && s.Scale == other.Scale
}

func (s *Signature) TotalAbundance() uint64 {
	var total uint64
	for _, a := range s.abundances {
		total += a
	}
	return total
}

func (s *Signature) MeanAbundance() float64 {
	if len(s.abundances) == 0 {
		return 0
	}
	return float64(s.TotalAbundance()) / float64(len(s.abundances))
}

func (s *Signature) MedianAbundance() float64 {
	if len(s.abundances) == 0 {
		return 0
	}
	sorted := append([]uint64(nil), s.abundances...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return (float64(sorted[mid-1]) + float64(sorted[mid])) / 2
}

// CountAbundance reports how many hashes carry exactly the given abundance.
func (s *Signature) CountAbundance(v uint64) int {
	n := 0
	for _, a := range s.abundances {
		if a == v {
			n++
		}
	}
	return n
}

// Intersect keeps hashes present in both signatures with the receiver's
// abundances.
func (s *Signature) Intersect(other *Signature) *Signature {
	hashes := make([]uint64, 0)
	abundances := make([]uint64, 0)
	i, j := 0, 0
	for i < len(s.hashes) && j < len(other.hashes) {
		switch {
		case s.hashes[i] == other.hashes[j]:
			hashes = append(hashes, s.hashes[i])
			abundances = append(abundances, s.abundances[i])
			i++
			j++
		case s.hashes[i] < other.hashes[j]:
			i++
		default:
			j++
		}
	}
	return s.derive(hashes, abundances)
}

// Subtract keeps hashes present in the receiver but not in other.
func (s *Signature) Subtract(other *Signature) *Signature {
	hashes := make([]uint64, 0)
	abundances := make([]uint64, 0)
	i, j := 0, 0
	for i < len(s.hashes) {
		for j < len(other.hashes) && other.hashes[j] < s.hashes[i] {
			j++
		}
		if j >= len(other.hashes) || other.hashes[j] != s.hashes[i] {
			hashes = append(hashes, s.hashes[i])
			abundances = append(abundances, s.abundances[i])
		}
		i++
	}
	return s.derive(hashes, abundances)
}

// MedianTrim returns a copy holding only hashes whose abundance is at or
// above the median abundance.
func (s *Signature) MedianTrim() (*Signature, error) {
	median := s.MedianAbundance()
	hashes := make([]uint64, 0, len(s.hashes))
	abundances := make([]uint64, 0, len(s.abundances))
	for i, a := range s.abundances {
		if float64(a) >= median {
			hashes = append(hashes, s.hashes[i])
			abundances = append(abundances, a)
		}
	}
	if len(hashes) == 0 {
		return nil, ErrEmptySignature
	}
	return s.derive(hashes, abundances), nil
}

// SplitRandomly partitions the signature's abundance mass into n parts.
// Every unit of abundance is shuffled and dealt round-robin, so part
// totals differ by at most one and summing the parts reproduces the
// original signature exactly.
func (s *Signature) SplitRandomly(n int, rng *rand.Rand) []*Signature {
	flat := make([]int, 0, int(s.TotalAbundance()))
	for i, a := range s.abundances {
		for j := uint64(0); j < a; j++ {
			flat = append(flat, i)
		}
	}
	rng.Shuffle(len(flat), func(i, j int) { flat[i], flat[j] = flat[j], flat[i] })

	counts := make([][]uint64, n)
	for p := range counts {
		counts[p] = make([]uint64, len(s.hashes))
	}
	for i, idx := range flat {
		counts[i%n][idx]++
	}

	parts := make([]*Signature, n)
	for p := range counts {
		hashes := make([]uint64, 0, len(s.hashes))
		abundances := make([]uint64, 0, len(s.hashes))
		for i, c := range counts[p] {
			if c > 0 {
				hashes = append(hashes, s.hashes[i])
				abundances = append(abundances, c)
			}
		}
		parts[p] = s.derive(hashes, abundances)
	}
	return parts
}

// Sum merges signatures into their union, adding abundances for shared
// hashes. All inputs must be pairwise compatible.
func Sum(sigs ...*Signature) (*Signature, error) {
	if len(sigs) == 0 {
		return nil, ErrEmptySignature
	}
	acc := sigs[0]
	for _, next := range sigs[1:] {
		if !acc.Compatible(next) {
			return nil, fmt.Errorf("%w: %q and %q", ErrIncompatibleSigs, acc.Name, next.Name)
		}
		acc = acc.union(next)
	}
	return acc, nil
}

func (s *Signature) union(other *Signature) *Signature {
	hashes := make([]uint64, 0, len(s.hashes)+len(other.hashes))
	abundances := make([]uint64, 0, len(s.hashes)+len(other.hashes))
	i, j := 0, 0
	for i < len(s.hashes) || j < len(other.hashes) {
		switch {
		case j >= len(other.hashes) || (i < len(s.hashes) && s.hashes[i] < other.hashes[j]):
			hashes = append(hashes, s.hashes[i])
			abundances = append(abundances, s.abundances[i])
			i++
		case i >= len(s.hashes) || other.hashes[j] < s.hashes[i]:
			hashes = append(hashes, other.hashes[j])
			abundances = append(abundances, other.abundances[j])
			j++
		default:
			hashes = append(hashes, s.hashes[i])
			abundances = append(abundances, s.abundances[i]+other.abundances[j])
			i++
			j++
		}
	}
	return s.derive(hashes, abundances)
}

func (s *Signature) derive(hashes, abundances []uint64) *Signature {
	return &Signature{
		Name:       s.Name,
		KSize:      s.KSize,
		Scale:      s.Scale,
		hashes:     hashes,
		abundances: abundances,
	}
}
