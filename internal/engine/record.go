package engine

import "strconv"

// NotAvailable is rendered for every field a computation did not produce.
const NotAvailable = "N/A"

// FieldOrder is the canonical metrics record layout. Consumers render
// fields in this order; absent values surface as NotAvailable.
var FieldOrder = []string{
	"SRA Experiment accession",
	"BioSample accession",
	"BioProject accession",
	"SRA Assay type",
	"Number of bases",
	"Library Layout",
	"Total unique k-mers",
	"Genomic unique k-mers",
	"Exome unique k-mers",
	"Genome coverage index",
	"Exome coverage index",
	"k-mer total abundance",
	"k-mer mean abundance",
	"Genomic k-mers total abundance",
	"Genomic k-mers mean abundance",
	"Genomic k-mers median abundance",
	"Exome k-mers total abundance",
	"Exome k-mers mean abundance",
	"Exome k-mers median abundance",
	"Mapping index",
	"Predicted contamination index",
	"Empirical contamination index",
	"Sequencing errors index",
	"Autosomal k-mer mean abundance CV",
	"Exome enrichment score",
	"Predicted Assay type",
	"chrX Ploidy score",
	"chrY Coverage score",
	"Median-trimmed relative coverage",
	"Relative mean abundance",
	"Relative coverage",
	"Coverage of 1fold more sequencing",
	"Coverage of 2fold more sequencing",
	"Coverage of 5fold more sequencing",
	"Coverage of 9fold more sequencing",
	"Relative total abundance",
}

// Record holds one sample's metrics keyed by field name. The zero value
// of a field is NotAvailable; field order is fixed by FieldOrder.
type Record struct {
	values map[string]string
}

func NewRecord() *Record {
	return &Record{values: make(map[string]string, len(FieldOrder))}
}

// Fields returns the canonical field order.
func (r *Record) Fields() []string {
	fields := make([]string, len(FieldOrder))
	copy(fields, FieldOrder)
	return fields
}

func (r *Record) Set(field, value string) { r.values[field] = value }

func (r *Record) SetInt(field string, v int) { r.values[field] = strconv.Itoa(v) }

func (r *Record) SetUint(field string, v uint64) {
	r.values[field] = strconv.FormatUint(v, 10)
}

func (r *Record) SetFloat(field string, v float64) {
	r.values[field] = strconv.FormatFloat(v, 'g', -1, 64)
}

// Value returns the stored value or NotAvailable.
func (r *Record) Value(field string) string {
	if v, ok := r.values[field]; ok {
		return v
	}
	return NotAvailable
}

// AsMap copies the record with every canonical field present, absent
// values filled with NotAvailable.
func (r *Record) AsMap() map[string]string {
	out := make(map[string]string, len(FieldOrder))
	for _, field := range FieldOrder {
		out[field] = r.Value(field)
	}
	return out
}
