package recorder

import (
	"slices"
	"time"
)

// Table is a finalized, column-named time series table. Rows are aligned
// with Times; missing values are NaN.
type Table struct {
	Name    string
	Columns []string
	Times   []time.Time
	Rows    [][]float64
}

func (t Table) Len() int {
	return len(t.Rows)
}

// Column returns one column's values.
func (t Table) Column(name string) ([]float64, bool) {
	idx := slices.Index(t.Columns, name)
	if idx < 0 {
		return nil, false
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, true
}
