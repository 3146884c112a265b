package results

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snipeqc/internal/engine"
)

func record(fields map[string]string) *engine.Record {
	rec := engine.NewRecord()
	for k, v := range fields {
		rec.Set(k, v)
	}
	return rec
}

func TestHeaderFixedByFirstResult(t *testing.T) {
	table := NewTable()
	table.OnResult("t1", record(map[string]string{"Mapping index": "0.9"}))

	header, rows := table.Snapshot()
	assert.Equal(t, engine.FieldOrder, header)
	require.Len(t, rows, 1)
	assert.Len(t, rows[0], len(header))
}

func TestAbsentFieldsRenderAsNA(t *testing.T) {
	table := NewTable()
	table.OnResult("t1", record(map[string]string{"Total unique k-mers": "42"}))

	header, rows := table.Snapshot()
	row := rows[0]
	for i, field := range header {
		switch field {
		case "Total unique k-mers":
			assert.Equal(t, "42", row[i])
		default:
			assert.Equal(t, engine.NotAvailable, row[i])
		}
	}
}

func TestProgressIndicatorsClearOnResult(t *testing.T) {
	table := NewTable()
	table.OnProgress("t1", 60, "Computing metrics")
	assert.Equal(t, Indicator{Percent: 60, Text: "Computing metrics"}, table.Indicators()["t1"])

	table.OnResult("t1", record(nil))
	assert.Empty(t, table.Indicators())

	// a straggler progress event after the row exists is ignored
	table.OnProgress("t1", 90, "Post-processing")
	assert.Empty(t, table.Indicators())
}

func TestRemoveDeletesRow(t *testing.T) {
	table := NewTable()
	table.OnResult("t1", record(map[string]string{"Mapping index": "0.1"}))
	table.OnResult("t2", record(map[string]string{"Mapping index": "0.2"}))

	table.Remove("t1")
	_, rows := table.Snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, 1, table.Len())

	table.Remove("t2")
	assert.Equal(t, 0, table.Len())
	// header survives so later records keep the same field set
	header, _ := table.Snapshot()
	assert.Equal(t, engine.FieldOrder, header)
}

func TestExportTSVRoundTrip(t *testing.T) {
	table := NewTable()
	table.OnResult("t1", record(map[string]string{
		"SRA Experiment accession": "sample1.sig",
		"Total unique k-mers":      "100",
	}))
	table.OnResult("t2", record(map[string]string{
		"SRA Experiment accession": "sample2.sig",
		"Total unique k-mers":      "200",
	}))

	var buf bytes.Buffer
	require.NoError(t, table.ExportTSV(&buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)

	header, rows := table.Snapshot()
	assert.Equal(t, header, strings.Split(lines[0], "\t"))
	assert.Equal(t, rows[0], strings.Split(lines[1], "\t"))
	assert.Equal(t, rows[1], strings.Split(lines[2], "\t"))
}

func TestExportTSVWithoutResults(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, NewTable().ExportTSV(&buf), ErrNoResults)
}
