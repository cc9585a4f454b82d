package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// startProgressTicker prints a progress table to o.progressWriter every
// pipelineCfg.ProgressInterval until the returned stop function is called.
// Grounded on five82-spindle's cmd/spindle/table.go renderTable helper,
// repurposed from a one-shot queue-status render into a ticking run-progress
// display.
func (o *Orchestrator) startProgressTicker(ctx context.Context, sum *summaryAccumulator, total int) (stop func()) {
	interval := o.pipelineCfg.ProgressInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.printProgress(sum, total)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}

func (o *Orchestrator) printProgress(sum *summaryAccumulator, total int) {
	snap := sum.snapshot()
	processed := snap.Completed + snap.Errored + snap.Skipped
	remaining := total - processed
	if remaining < 0 {
		remaining = 0
	}

	rows := [][]string{
		{"Completed", fmt.Sprintf("%d", snap.Completed)},
		{"Errored", fmt.Sprintf("%d", snap.Errored)},
		{"Skipped", fmt.Sprintf("%d", snap.Skipped)},
		{"Remaining", fmt.Sprintf("%d", remaining)},
		{"Segments written", fmt.Sprintf("%d", snap.SegmentsWritten)},
		{"Embeddings written", fmt.Sprintf("%d", snap.EmbeddingsWritten)},
	}

	rendered := renderTable([]string{"Metric", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
	fmt.Fprintln(o.progressWriter, rendered)
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}
