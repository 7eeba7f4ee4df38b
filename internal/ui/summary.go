package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/olekukonko/tablewriter"

	"github.com/CZERTAINLY/Mutiny/internal/model"
)

// Statuses in display order.
var Statuses = []model.DetectionStatus{
	model.DetectionKilled,
	model.DetectionSurvived,
	model.DetectionTimedOut,
	model.DetectionMemoryError,
	model.DetectionRunError,
}

// Tally counts results per status.
type Tally struct {
	mx     sync.Mutex
	counts map[model.DetectionStatus]int
	total  int
}

func NewTally() *Tally {
	return &Tally{counts: make(map[model.DetectionStatus]int)}
}

func (t *Tally) Accept(r model.Result) {
	t.mx.Lock()
	defer t.mx.Unlock()
	t.counts[r.Status]++
	t.total++
}

func (t *Tally) Counts() map[model.DetectionStatus]int {
	t.mx.Lock()
	defer t.mx.Unlock()
	ret := make(map[model.DetectionStatus]int, len(t.counts))
	for k, v := range t.counts {
		ret[k] = v
	}
	return ret
}

// Score is the share of detected mutants: everything but SURVIVED and
// RUN_ERROR counts as detected.
func Score(counts map[model.DetectionStatus]int) float64 {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return 0
	}
	detected := total - counts[model.DetectionSurvived] - counts[model.DetectionRunError]
	return float64(detected) * 100 / float64(total)
}

// RenderSummary writes a status table of counts.
func RenderSummary(w io.Writer, counts map[model.DetectionStatus]int) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Status", "Mutants"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})

	total := 0
	for _, status := range Statuses {
		n := counts[status]
		total += n
		table.Append([]string{string(status), fmt.Sprintf("%d", n)})
	}
	table.SetFooter([]string{
		fmt.Sprintf("Score %.1f%%", Score(counts)),
		fmt.Sprintf("%d", total),
	})
	table.Render()
}
