package fleet

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"paraglider-sim/internal/device"
	"paraglider-sim/internal/physics"
)

// Stats is an aggregated snapshot of the whole fleet.
type Stats struct {
	Time          time.Time
	Devices       int
	PhaseCounts   map[physics.FlightPhase]int
	Running       int
	Completed     int
	Degraded      int
	Failed        int
	PointsSent    int
	PointsFailed  int
	BatchesSent   int
	FlightsClosed int
}

// Aggregate folds per-device snapshots into fleet totals.
func Aggregate(snaps []device.Snapshot) Stats {
	s := Stats{
		Time:        time.Now().UTC(),
		Devices:     len(snaps),
		PhaseCounts: make(map[physics.FlightPhase]int),
	}
	for _, snap := range snaps {
		if snap.Phase != "" {
			s.PhaseCounts[snap.Phase]++
		}
		switch snap.Status {
		case device.StatusRunning:
			s.Running++
		case device.StatusCompleted:
			s.Completed++
		case device.StatusDegraded:
			s.Degraded++
		case device.StatusFailed:
			s.Failed++
		}
		s.PointsSent += snap.PointsSent
		s.PointsFailed += snap.PointsFailed
		s.BatchesSent += snap.BatchesSent
		s.FlightsClosed += snap.FlightsClosed
	}
	return s
}

// Summary is the end-of-run report written next to the working dir.
type Summary struct {
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	DurationSeconds float64           `json:"duration_seconds"`
	Devices         int               `json:"devices"`
	Completed       int               `json:"completed"`
	Interrupted     int               `json:"interrupted"`
	Degraded        int               `json:"degraded"`
	Failed          int               `json:"failed"`
	PointsSent      int               `json:"points_sent"`
	PointsFailed    int               `json:"points_failed"`
	BatchesSent     int               `json:"batches_sent"`
	FlightsClosed   int               `json:"flights_closed"`
	DeviceResults   []device.Snapshot `json:"device_results"`
}

// NewSummary builds the final report from the fleet's last snapshots.
func NewSummary(start, end time.Time, snaps []device.Snapshot) Summary {
	stats := Aggregate(snaps)
	return Summary{
		StartedAt:       start.UTC(),
		FinishedAt:      end.UTC(),
		DurationSeconds: end.Sub(start).Seconds(),
		Devices:         stats.Devices,
		Completed:       stats.Completed,
		Interrupted:     stats.Running, // abandoned when the shutdown grace expired
		Degraded:        stats.Degraded,
		Failed:          stats.Failed,
		PointsSent:      stats.PointsSent,
		PointsFailed:    stats.PointsFailed,
		BatchesSent:     stats.BatchesSent,
		FlightsClosed:   stats.FlightsClosed,
		DeviceResults:   snaps,
	}
}

// Write stores the summary as indented JSON at path.
func (s Summary) Write(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write results summary: %w", err)
	}
	return nil
}
