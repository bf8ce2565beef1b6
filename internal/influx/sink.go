// Package influx publishes progress entries to InfluxDB so they can be
// charted outside the application.
package influx

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/charlie0129/daytracker/internal/config"
	"github.com/charlie0129/daytracker/internal/models"
	"github.com/charlie0129/daytracker/internal/timeutil"
)

const (
	measurementProgress = "progress"
	measurementCounts   = "progress_counts"
)

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Sink writes one point per category plus a counts point for every
// progress entry.
type Sink struct {
	client influxdb2.Client
	writer pointWriter
	loc    *time.Location
}

func NewSink(ctx context.Context, cfg config.InfluxDBConfig, loc *time.Location) (*Sink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		slog.Warn("influxdb health check", "status", health.Status)
	}

	slog.Info("influxdb sink initialized", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return &Sink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		loc:    loc,
	}, nil
}

func (s *Sink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// WriteProgress implements rollover.ProgressSink.
func (s *Sink) WriteProgress(ctx context.Context, uid string, entry models.ProgressEntry) error {
	points, err := Points(uid, entry, s.loc)
	if err != nil {
		return err
	}
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write to InfluxDB: %w", err)
	}
	return nil
}

// Points converts entry into InfluxDB points stamped at the start of its day.
func Points(uid string, entry models.ProgressEntry, loc *time.Location) ([]*write.Point, error) {
	day, err := timeutil.ParseDateKey(entry.Date, loc)
	if err != nil {
		return nil, fmt.Errorf("progress entry date %q: %w", entry.Date, err)
	}

	categories := make([]string, 0, len(entry.CategoryWiseTime))
	for c := range entry.CategoryWiseTime {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	points := make([]*write.Point, 0, len(categories)+1)
	for _, c := range categories {
		points = append(points, influxdb2.NewPoint(measurementProgress,
			map[string]string{"user": uid, "category": c},
			map[string]interface{}{
				"hours":        entry.CategoryWiseTime[c],
				"effort_hours": entry.CategoryWiseEffortScaledTime[c],
			},
			day,
		))
	}
	points = append(points, influxdb2.NewPoint(measurementCounts,
		map[string]string{"user": uid},
		map[string]interface{}{
			"completed":     entry.CompletedCount,
			"not_completed": entry.NotCompletedCount,
		},
		day,
	))
	return points, nil
}
