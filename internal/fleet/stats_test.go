package fleet

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"paraglider-sim/internal/device"
	"paraglider-sim/internal/physics"
)

func sampleSnapshots() []device.Snapshot {
	return []device.Snapshot{
		{DeviceID: "PARA-1", Phase: physics.PhaseThermaling, Status: device.StatusRunning, PointsSent: 100, FlightsClosed: 1},
		{DeviceID: "PARA-2", Phase: physics.PhaseGround, Status: device.StatusRunning, PointsSent: 40},
		{DeviceID: "PARA-3", Phase: physics.PhaseGliding, Status: device.StatusDegraded, PointsSent: 70, PointsFailed: 5},
		{DeviceID: "PARA-4", Status: device.StatusFailed},
	}
}

func TestAggregate(t *testing.T) {
	s := Aggregate(sampleSnapshots())
	if s.Devices != 4 {
		t.Errorf("devices = %d, want 4", s.Devices)
	}
	if s.Running != 2 || s.Degraded != 1 || s.Failed != 1 {
		t.Errorf("status counts wrong: running=%d degraded=%d failed=%d", s.Running, s.Degraded, s.Failed)
	}
	if s.PointsSent != 210 || s.PointsFailed != 5 || s.FlightsClosed != 1 {
		t.Errorf("totals wrong: %+v", s)
	}
	if s.PhaseCounts[physics.PhaseThermaling] != 1 || s.PhaseCounts[physics.PhaseGround] != 1 {
		t.Errorf("phase counts wrong: %v", s.PhaseCounts)
	}
}

func TestSummaryWrite(t *testing.T) {
	start := time.Now().Add(-90 * time.Second)
	end := time.Now()
	summary := NewSummary(start, end, sampleSnapshots())

	if summary.Completed != 0 {
		t.Errorf("running devices must not count as completed, got %d", summary.Completed)
	}
	if summary.Interrupted != 2 {
		t.Errorf("expected 2 interrupted devices, got %d", summary.Interrupted)
	}
	if summary.DurationSeconds < 89 || summary.DurationSeconds > 91 {
		t.Errorf("duration %f out of range", summary.DurationSeconds)
	}

	path := filepath.Join(t.TempDir(), "results.json")
	if err := summary.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var parsed Summary
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("summary is not valid JSON: %v", err)
	}
	if parsed.Devices != 4 || len(parsed.DeviceResults) != 4 {
		t.Errorf("parsed summary incomplete: %+v", parsed)
	}
}
