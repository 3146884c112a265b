// Package results renders completed metrics records as a table with a
// fixed header and exports it as tab-separated text.
package results

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"snipeqc/internal/engine"
)

var ErrNoResults = errors.New("no results to export")

// Indicator is the rendered progress state for a task that has no result
// row yet.
type Indicator struct {
	Percent int    `json:"percent"`
	Text    string `json:"text"`
}

// Table implements the presenter side of the worker protocol. The header
// is fixed by the first received record's field order; later records must
// expose the same field set, absent values render as "N/A".
type Table struct {
	mu       sync.RWMutex
	header   []string
	rows     map[string][]string
	rowOrder []string
	progress map[string]Indicator
}

func NewTable() *Table {
	return &Table{
		rows:     make(map[string][]string),
		progress: make(map[string]Indicator),
	}
}

// OnProgress updates the task's indicator. Percent is expected to be
// monotonic per task; the table renders whatever it is told.
func (t *Table) OnProgress(taskID string, percent int, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, done := t.rows[taskID]; done {
		return
	}
	t.progress[taskID] = Indicator{Percent: percent, Text: text}
}

// OnResult appends the record as a row, fixing the header on first use.
func (t *Table) OnResult(taskID string, rec *engine.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.header == nil {
		t.header = rec.Fields()
	}
	row := make([]string, len(t.header))
	for i, field := range t.header {
		row[i] = rec.Value(field)
	}
	if _, exists := t.rows[taskID]; !exists {
		t.rowOrder = append(t.rowOrder, taskID)
	}
	t.rows[taskID] = row
	delete(t.progress, taskID)
}

// Remove deletes the task's row and indicator if present.
func (t *Table) Remove(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.progress, taskID)
	if _, ok := t.rows[taskID]; !ok {
		return
	}
	delete(t.rows, taskID)
	for i, id := range t.rowOrder {
		if id == taskID {
			t.rowOrder = append(t.rowOrder[:i], t.rowOrder[i+1:]...)
			break
		}
	}
}

// Len reports the number of result rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Snapshot copies the current header and rows in insertion order.
func (t *Table) Snapshot() (header []string, rows [][]string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	header = append([]string(nil), t.header...)
	rows = make([][]string, 0, len(t.rowOrder))
	for _, id := range t.rowOrder {
		rows = append(rows, append([]string(nil), t.rows[id]...))
	}
	return header, rows
}

// Indicators copies the per-task progress states without result rows.
func (t *Table) Indicators() map[string]Indicator {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Indicator, len(t.progress))
	for id, ind := range t.progress {
		out[id] = ind
	}
	return out
}

// ExportTSV writes the table as tab-separated text: header line first,
// then one row per result. Embedded tabs and newlines are not escaped.
func (t *Table) ExportTSV(w io.Writer) error {
	header, rows := t.Snapshot()
	if len(header) == 0 {
		return ErrNoResults
	}
	if _, err := fmt.Fprintln(w, strings.Join(header, "\t")); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(w, strings.Join(row, "\t")); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	return nil
}
