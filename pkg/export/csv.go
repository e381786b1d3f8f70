// Package export writes finished tables and live snapshots out of the
// process: CSV files, InfluxDB points and Kafka messages.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/boristopalov/bca/pkg/recorder"
)

// TimeLayout is the datetime column format.
const TimeLayout = "2006-01-02 15:04:05"

// WriteCSV writes t with a leading datetime column. NaN cells are empty.
func WriteCSV(w io.Writer, t recorder.Table) error {
	cw := csv.NewWriter(w)
	header := append([]string{"datetime"}, t.Columns...)
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for i, row := range t.Rows {
		record[0] = ""
		if i < len(t.Times) {
			record[0] = t.Times[i].Format(TimeLayout)
		}
		for j, v := range row {
			if math.IsNaN(v) {
				record[j+1] = ""
				continue
			}
			record[j+1] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes each table to dir/<name>.csv and returns the paths.
func SaveCSV(dir string, tables ...recorder.Table) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	paths := make([]string, 0, len(tables))
	for _, t := range tables {
		path := filepath.Join(dir, t.Name+".csv")
		if err := saveOne(path, t); err != nil {
			return paths, fmt.Errorf("export %s: %w", t.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func saveOne(path string, t recorder.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
