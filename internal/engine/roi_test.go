package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictROIExtrapolatesLogLinearDeltas(t *testing.T) {
	// deltas decay as exp(-x), so the fit reproduces the curve exactly
	points := []roiPoint{
		{coverage: 0.4, meanAbundance: 1, delta: math.Exp(-1)},
		{coverage: 0.6, meanAbundance: 2, delta: math.Exp(-2)},
		{coverage: 0.7, meanAbundance: 3, delta: math.Exp(-3)},
	}

	got, err := predictROI(points, 5)
	require.NoError(t, err)
	assert.InDelta(t, 0.7+math.Exp(-4)+math.Exp(-5), got, 1e-9)
}

func TestPredictROICarriesZeroDeltasForward(t *testing.T) {
	points := []roiPoint{
		{coverage: 0.4, meanAbundance: 1, delta: 0.1},
		{coverage: 0.4, meanAbundance: 2, delta: 0},
	}

	// the zero delta inherits 0.1, giving a flat fit: one more step of 0.1
	got, err := predictROI(points, 3)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestPredictROIRejectsDegenerateCurves(t *testing.T) {
	flatCurve := []roiPoint{
		{coverage: 0.5, meanAbundance: 1, delta: 0},
		{coverage: 0.5, meanAbundance: 2, delta: 0},
	}
	_, err := predictROI(flatCurve, 10)
	assert.ErrorIs(t, err, errROIUnfit)

	onePoint := []roiPoint{{coverage: 0.5, meanAbundance: 1, delta: 0.1}}
	_, err = predictROI(onePoint, 10)
	assert.ErrorIs(t, err, errROIUnfit)

	noHeadroom := []roiPoint{
		{coverage: 0.4, meanAbundance: 1, delta: 0.1},
		{coverage: 0.5, meanAbundance: 2, delta: 0.1},
	}
	_, err = predictROI(noHeadroom, 2)
	assert.ErrorIs(t, err, errROIUnfit)
}

func TestProcessProjectsNineFoldCoverage(t *testing.T) {
	eng := NewSnipe(51)

	hashes := flat(200, 1)
	abundances := make([]uint64, 200)
	for i := range abundances {
		abundances[i] = 3
	}

	req := Request{
		TaskID:      "roi",
		SampleName:  "wgs",
		SampleSig:   sigJSON(t, "wgs", 51, hashes, abundances),
		GenomeSig:   sigJSON(t, "g", 51, hashes, ones(200)),
		YChrSig:     sigJSON(t, "y", 51, []uint64{999}, ones(1)),
		AmpliconSig: sigJSON(t, "exome", 51, flat(20, 1), ones(20)),
	}

	rec, err := eng.Process(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "WGS", rec.Value("Predicted Assay type"))

	// the projection extends past the coverage the full sample reached
	projected := fv(t, rec, "Coverage of 9fold more sequencing")
	assert.Greater(t, projected, fv(t, rec, "Genome coverage index"))

	assert.Equal(t, NotAvailable, rec.Value("Coverage of 1fold more sequencing"))
	assert.Equal(t, NotAvailable, rec.Value("Coverage of 5fold more sequencing"))
}

func TestProcessRepeatsProjectionDeterministically(t *testing.T) {
	eng := NewSnipe(51)

	hashes := flat(120, 1)
	abundances := make([]uint64, 120)
	for i := range abundances {
		abundances[i] = 4
	}
	req := Request{
		TaskID:      "roi-repeat",
		SampleName:  "wgs",
		SampleSig:   sigJSON(t, "wgs", 51, hashes, abundances),
		GenomeSig:   sigJSON(t, "g", 51, hashes, ones(120)),
		YChrSig:     sigJSON(t, "y", 51, []uint64{999}, ones(1)),
		AmpliconSig: sigJSON(t, "exome", 51, flat(12, 1), ones(12)),
	}

	first, err := eng.Process(context.Background(), req)
	require.NoError(t, err)
	second, err := eng.Process(context.Background(), req)
	require.NoError(t, err)

	field := "Coverage of 9fold more sequencing"
	assert.Equal(t, first.Value(field), second.Value(field))
}
