package export

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Point is one exported time-series sample: a timestamp, the fixed device
// identity tags, and the retained metric fields. Points are created by the
// streamer and owned by the batcher until flushed.
type Point struct {
	Timestamp time.Time
	Tags      map[string]string
	Fields    map[string]float64
}

// PointWriter delivers a batch of points in one write request.
type PointWriter interface {
	WritePoints(ctx context.Context, points []*Point) error
}

// InfluxWriter writes points to InfluxDB via the blocking write API. The
// batcher already groups points, so no client-side write buffering is wanted
// on top.
type InfluxWriter struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
}

// NewInfluxWriter connects a writer to the configured org, bucket and
// measurement.
func NewInfluxWriter(url, token, org, bucket, measurement string) *InfluxWriter {
	client := influxdb2.NewClient(url, token)
	return &InfluxWriter{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(org, bucket),
		measurement: measurement,
	}
}

// WritePoints sends the whole batch as one write request.
func (w *InfluxWriter) WritePoints(ctx context.Context, points []*Point) error {
	converted := make([]*write.Point, 0, len(points))
	for _, p := range points {
		fields := make(map[string]any, len(p.Fields))
		for name, value := range p.Fields {
			fields[name] = value
		}
		converted = append(converted, influxdb2.NewPoint(w.measurement, p.Tags, fields, p.Timestamp))
	}
	return w.writeAPI.WritePoint(ctx, converted...)
}

// Ping reports whether the database answers.
func (w *InfluxWriter) Ping(ctx context.Context) (bool, error) {
	return w.client.Ping(ctx)
}

// Close releases the underlying client.
func (w *InfluxWriter) Close() {
	w.client.Close()
}
