package engine

import (
	"context"
	"fmt"
	"math"
	"sort"

	"snipeqc/internal/sig"
)

const (
	// DefaultKSize is the k-mer size every shipped reference set is built at.
	DefaultKSize = 51

	// Enrichment scores below the grey zone predict whole-genome
	// sequencing, above it whole-exome; inside it no call is made.
	greyZoneLow  = 3.0
	greyZoneHigh = 7.0
)

// Snipe computes the metrics record natively from FracMinHash set algebra,
// including the nine-fold extra-sequencing projection for samples whose
// assay type could be predicted. The one, two, and five fold projections
// stay at NotAvailable.
type Snipe struct {
	ksize int
}

func NewSnipe(ksize int) *Snipe {
	if ksize <= 0 {
		ksize = DefaultKSize
	}
	return &Snipe{ksize: ksize}
}

func (e *Snipe) Init(ctx context.Context) error {
	if e.ksize%2 == 0 {
		return fmt.Errorf("%w: even k-mer size %d", ErrInitialization, e.ksize)
	}
	return ctx.Err()
}

func (e *Snipe) Process(ctx context.Context, req Request) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sample, err := e.parse(req.SampleSig, "sample "+req.SampleName)
	if err != nil {
		return nil, err
	}
	genome, err := e.parse(req.GenomeSig, "genome "+req.Genome)
	if err != nil {
		return nil, err
	}
	ychr, err := e.parse(req.YChrSig, "y chromosome")
	if err != nil {
		return nil, err
	}
	chrs := make(map[string]*sig.Signature, len(req.ChrSigs))
	for name, content := range req.ChrSigs {
		parsed, err := e.parse(content, "chromosome "+name)
		if err != nil {
			return nil, err
		}
		chrs[name] = parsed
	}
	var amplicon *sig.Signature
	if req.AmpliconSig != "" {
		if amplicon, err = e.parse(req.AmpliconSig, "amplicon"); err != nil {
			return nil, err
		}
	}

	if !sample.Compatible(genome) {
		return nil, fmt.Errorf("%w: sample (k=%d scale=%d) vs genome (k=%d scale=%d)",
			ErrComputation, sample.KSize, sample.Scale, genome.KSize, genome.Scale)
	}
	if genome.Len() == 0 {
		return nil, fmt.Errorf("%w: genome reference is empty", ErrComputation)
	}

	rec := NewRecord()
	rec.Set("SRA Experiment accession", req.SampleName)

	rec.SetInt("Total unique k-mers", sample.Len())
	totalAbundance := sample.TotalAbundance()
	rec.SetUint("k-mer total abundance", totalAbundance)
	rec.SetFloat("k-mer mean abundance", sample.MeanAbundance())

	genomic := sample.Intersect(genome)
	rec.SetInt("Genomic unique k-mers", genomic.Len())
	rec.SetUint("Genomic k-mers total abundance", genomic.TotalAbundance())
	rec.SetFloat("Genomic k-mers mean abundance", genomic.MeanAbundance())
	rec.SetFloat("Genomic k-mers median abundance", genomic.MedianAbundance())
	genomeCoverage := float64(genomic.Len()) / float64(genome.Len())
	rec.SetFloat("Genome coverage index", genomeCoverage)

	if totalAbundance > 0 {
		rec.SetFloat("Mapping index", float64(genomic.TotalAbundance())/float64(totalAbundance))

		nonGenomic := sample.Subtract(genome)
		singletons := uint64(nonGenomic.CountAbundance(1))
		nonGenomicAbundance := nonGenomic.TotalAbundance()
		rec.SetFloat("Predicted contamination index",
			(float64(nonGenomicAbundance)-float64(singletons))/float64(totalAbundance))
		rec.SetFloat("Sequencing errors index", float64(singletons)/float64(totalAbundance))
	}

	e.chromosomeMetrics(rec, sample, ychr, chrs)

	if amplicon != nil {
		if err := e.ampliconMetrics(rec, sample, genome, amplicon, genomeCoverage); err != nil {
			return nil, err
		}
	}

	return rec, nil
}

func (e *Snipe) parse(content, source string) (*sig.Signature, error) {
	parsed, err := sig.ParseJSON(content, e.ksize)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDataParse, source, err)
	}
	return parsed, nil
}

// chromosomeMetrics fills the sex-chromosome scores and the autosomal
// abundance dispersion. The bundle's dedicated Y reference is the Y
// signature; a per-chromosome "Y" entry only backs it up. All three
// scores need the per-chromosome references; any missing piece leaves
// the fields at NotAvailable.
func (e *Snipe) chromosomeMetrics(rec *Record, sample, ychr *sig.Signature, chrs map[string]*sig.Signature) {
	if len(chrs) == 0 {
		return
	}

	ySig := ychr
	if ySig == nil || ySig.Len() == 0 {
		ySig = chrs["Y"]
	}
	xSig, hasX := chrs["X"]
	autosomes := make([]*sig.Signature, 0, len(chrs))
	for name, chrSig := range chrs {
		if name == "X" || name == "Y" || name == "M" {
			continue
		}
		autosomes = append(autosomes, chrSig)
	}
	if !hasX || ySig == nil || len(autosomes) == 0 {
		return
	}
	autosomal, err := sig.Sum(autosomes...)
	if err != nil || autosomal.Len() == 0 || xSig.Len() == 0 || ySig.Len() == 0 {
		return
	}

	xInSample := sample.Intersect(xSig)
	autosomalInSample := sample.Intersect(autosomal)
	if autosomalInSample.TotalAbundance() > 0 {
		ploidy := float64(xInSample.TotalAbundance()) / float64(autosomalInSample.TotalAbundance()) *
			(float64(autosomal.Len()) / float64(xSig.Len()))
		rec.SetFloat("chrX Ploidy score", ploidy)
	}

	autosomalCoverage := float64(autosomalInSample.Len()) / float64(autosomal.Len())
	if autosomalCoverage > 0 {
		yCoverage := float64(sample.Intersect(ySig).Len()) / float64(ySig.Len())
		rec.SetFloat("chrY Coverage score", yCoverage/autosomalCoverage)
	}

	if cv, ok := abundanceCV(sample, chrs); ok {
		rec.SetFloat("Autosomal k-mer mean abundance CV", cv)
	}
}

// abundanceCV is the coefficient of variation of per-chromosome sample
// abundances, each normalized by the chromosome's reference size. The
// chromosome set is whatever the caller hands in; selected chromosomes
// with zero sample overlap contribute 0, while empty references are
// skipped rather than dividing by zero.
func abundanceCV(sample *sig.Signature, chrs map[string]*sig.Signature) (float64, bool) {
	names := make([]string, 0, len(chrs))
	for name := range chrs {
		names = append(names, name)
	}
	sort.Strings(names)

	normalized := make([]float64, 0, len(names))
	for _, name := range names {
		chrSig := chrs[name]
		if chrSig.Len() == 0 {
			continue
		}
		common := sample.Intersect(chrSig)
		normalized = append(normalized, float64(common.TotalAbundance())/float64(chrSig.Len()))
	}
	if len(normalized) < 2 {
		return 0, false
	}

	var mean float64
	for _, v := range normalized {
		mean += v
	}
	mean /= float64(len(normalized))
	if mean == 0 {
		return 0, false
	}
	var variance float64
	for _, v := range normalized {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(normalized) - 1)
	return math.Sqrt(variance) / mean, true
}

func (e *Snipe) ampliconMetrics(rec *Record, sample, genome, amplicon *sig.Signature, genomeCoverage float64) error {
	if amplicon.Len() == 0 {
		return fmt.Errorf("%w: amplicon reference is empty", ErrComputation)
	}
	if amplicon.Intersect(genome).Len() == 0 {
		return fmt.Errorf("%w: amplicon shares no k-mers with the reference genome", ErrComputation)
	}

	exonic := sample.Intersect(amplicon)
	rec.SetInt("Exome unique k-mers", exonic.Len())
	rec.SetUint("Exome k-mers total abundance", exonic.TotalAbundance())
	rec.SetFloat("Exome k-mers mean abundance", exonic.MeanAbundance())
	rec.SetFloat("Exome k-mers median abundance", exonic.MedianAbundance())

	exomeCoverage := float64(exonic.Len()) / float64(amplicon.Len())
	rec.SetFloat("Exome coverage index", exomeCoverage)
	if genomeCoverage > 0 {
		rec.SetFloat("Relative coverage", exomeCoverage/genomeCoverage)
	}

	nonExonic := sample.Subtract(amplicon)
	if nonExonic.MeanAbundance() > 0 {
		rec.SetFloat("Relative mean abundance", exonic.MedianAbundance()/nonExonic.MeanAbundance())
	}

	genomicAbundance := sample.Intersect(genome).TotalAbundance()
	if genomicAbundance > 0 {
		rec.SetFloat("Relative total abundance",
			float64(exonic.TotalAbundance())/float64(genomicAbundance))
	}

	trimmed, err := sample.MedianTrim()
	if err != nil {
		return fmt.Errorf("%w: median trim: %v", ErrComputation, err)
	}
	trimmedGenomeCoverage := float64(trimmed.Intersect(genome).Len()) / float64(genome.Len())
	if trimmedGenomeCoverage == 0 {
		return nil
	}
	trimmedExomeCoverage := float64(trimmed.Intersect(amplicon).Len()) / float64(amplicon.Len())
	trimmedRelativeCoverage := trimmedExomeCoverage / trimmedGenomeCoverage
	rec.SetFloat("Median-trimmed relative coverage", trimmedRelativeCoverage)

	// enrichment compares exome abundance against the genome-without-exome
	// background; a strongly enriched exome implies a capture assay
	background := sample.Intersect(genome.Subtract(amplicon))
	if background.MeanAbundance() == 0 {
		return nil
	}
	enrichment := trimmedRelativeCoverage * (exonic.MeanAbundance() / background.MeanAbundance())
	rec.SetFloat("Exome enrichment score", enrichment)

	var roiRef *sig.Signature
	switch {
	case enrichment > greyZoneHigh:
		rec.Set("Predicted Assay type", "WXS")
		roiRef = amplicon
	case enrichment < greyZoneLow:
		rec.Set("Predicted Assay type", "WGS")
		roiRef = genome
	default:
		rec.Set("Predicted Assay type", "unpredicted")
	}

	// the projection accumulates coverage against the predicted assay's
	// reference; a flat or degenerate curve just leaves the field unset
	if roiRef != nil {
		if projected, err := foldCoverage(sample, roiRef); err == nil {
			rec.SetFloat("Coverage of 9fold more sequencing", projected)
		}
	}
	return nil
}
