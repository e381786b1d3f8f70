package export

import (
	"context"
	"fmt"
	"math"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/boristopalov/bca/pkg/messaging"
	"github.com/boristopalov/bca/pkg/recorder"
)

// PointWriter is the blocking write API of an InfluxDB client.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxWriter turns tables and snapshots into points of one measurement,
// tagged with the run ID.
type InfluxWriter struct {
	w           PointWriter
	measurement string
	runID       string
}

// NewInfluxClient connects to InfluxDB and returns the client together with
// a blocking writer for org/bucket. Close the client when done.
func NewInfluxClient(url, token, org, bucket string) (influxdb2.Client, PointWriter) {
	client := influxdb2.NewClient(url, token)
	return client, client.WriteAPIBlocking(org, bucket)
}

func NewInfluxWriter(w PointWriter, measurement, runID string) *InfluxWriter {
	if measurement == "" {
		measurement = "bca"
	}
	return &InfluxWriter{w: w, measurement: measurement, runID: runID}
}

// WriteTable writes one point per row. NaN cells are left out; a row with
// nothing but NaN is skipped. It returns the number of points written.
func (iw *InfluxWriter) WriteTable(ctx context.Context, t recorder.Table) (int, error) {
	points := make([]*write.Point, 0, t.Len())
	for i, row := range t.Rows {
		fields := make(map[string]interface{}, len(row))
		for j, v := range row {
			if !math.IsNaN(v) {
				fields[t.Columns[j]] = v
			}
		}
		if len(fields) == 0 || i >= len(t.Times) {
			continue
		}
		tags := map[string]string{"run_id": iw.runID, "table": t.Name}
		points = append(points, influxdb2.NewPoint(iw.measurement, tags, fields, t.Times[i]))
	}
	if len(points) == 0 {
		return 0, nil
	}
	if err := iw.w.WritePoint(ctx, points...); err != nil {
		return 0, fmt.Errorf("write %s to influx: %w", t.Name, err)
	}
	return len(points), nil
}

// WriteSnapshot writes the latest values of one callback as a single point.
func (iw *InfluxWriter) WriteSnapshot(ctx context.Context, snap messaging.Snapshot) error {
	if len(snap.Values) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(snap.Values)+2)
	for k, v := range snap.Values {
		if !math.IsNaN(v) {
			fields[k] = v
		}
	}
	fields["total_timesteps"] = snap.TotalTimesteps
	for i, r := range snap.Reward {
		fields[fmt.Sprintf("reward_%d", i)] = r
	}
	tags := map[string]string{"run_id": snap.RunID, "calling_point": snap.CallingPoint}
	return iw.w.WritePoint(ctx, influxdb2.NewPoint(iw.measurement+"_live", tags, fields, snap.Time))
}
