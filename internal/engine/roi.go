package engine

import (
	"errors"
	"math"
	"math/rand"

	"snipeqc/internal/sig"
)

// Extra-sequencing projection: the sample is split into equal random
// parts, coverage against the reference is accumulated part by part, and
// an ordinary least squares fit of log delta-coverage over mean abundance
// extrapolates where coverage lands after nine more folds of sequencing.
const (
	roiSplits = 5
	roiFold   = 9
)

var errROIUnfit = errors.New("coverage deltas do not support extrapolation")

// roiPoint is one observed step of the accumulation. coverage is the
// reference coverage index after adding a part, meanAbundance is the mean
// abundance of the accumulated signature against the reference before
// adding it, delta is the coverage gained by the part.
type roiPoint struct {
	coverage      float64
	meanAbundance float64
	delta         float64
}

// foldCoverage projects the reference coverage index the sample would
// reach with roiFold times more sequencing. ref is the genome for
// whole-genome samples and the amplicon for exome captures. The random
// split is seeded from the sample itself so repeated runs agree.
func foldCoverage(sample, ref *sig.Signature) (float64, error) {
	seed := int64(sample.TotalAbundance()) ^ int64(sample.Len())<<32
	rng := rand.New(rand.NewSource(seed))

	parts := sample.SplitRandomly(roiSplits, rng)
	cumulative := parts[0]
	points := make([]roiPoint, 0, len(parts)-1)
	for _, part := range parts[1:] {
		union, err := sig.Sum(cumulative, part)
		if err != nil {
			return 0, err
		}
		current := float64(union.Intersect(ref).Len()) / float64(ref.Len())
		previous := cumulative.Intersect(ref)
		previousCoverage := float64(previous.Len()) / float64(ref.Len())
		points = append(points, roiPoint{
			coverage:      current,
			meanAbundance: previous.MeanAbundance(),
			delta:         current - previousCoverage,
		})
		cumulative = union
	}

	return predictROI(points, (roiFold+1)*roiSplits)
}

// predictROI fits log(delta) against mean abundance and extrapolates the
// cumulative coverage out to nPredict parts. Zero deltas are carried
// forward from the previous step; a zero first delta means the curve
// never moved and nothing can be fit.
func predictROI(points []roiPoint, nPredict int) (float64, error) {
	if len(points) < 2 || nPredict <= len(points) {
		return 0, errROIUnfit
	}

	deltas := make([]float64, len(points))
	for i, p := range points {
		deltas[i] = p.delta
		if deltas[i] == 0 && i > 0 {
			deltas[i] = deltas[i-1]
		}
		if deltas[i] <= 0 {
			return 0, errROIUnfit
		}
	}

	var meanX, meanY float64
	for i, p := range points {
		meanX += p.meanAbundance
		meanY += math.Log(deltas[i])
	}
	meanX /= float64(len(points))
	meanY /= float64(len(points))

	var covXY, varX float64
	for i, p := range points {
		dx := p.meanAbundance - meanX
		covXY += dx * (math.Log(deltas[i]) - meanY)
		varX += dx * dx
	}
	if varX == 0 {
		return 0, errROIUnfit
	}
	slope := covXY / varX
	intercept := meanY - slope*meanX

	first := points[0].meanAbundance
	last := points[len(points)-1].meanAbundance
	step := (last - first) / float64(len(points)-1)

	coverage := points[len(points)-1].coverage
	for i := 1; i <= nPredict-len(points); i++ {
		x := last + step*float64(i)
		coverage += math.Exp(intercept + slope*x)
	}
	return coverage, nil
}
