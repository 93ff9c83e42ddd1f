package transport

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"paraglider-sim/internal/telemetry"
)

// FileWriter appends every transmitted envelope to a JSONL file. It is
// shared by all devices of a run and wraps their publishers via Tee.
type FileWriter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileWriter creates (truncating) the JSONL export file.
func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &FileWriter{file: f, enc: json.NewEncoder(f)}, nil
}

func (w *FileWriter) record(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

// Close flushes and closes the export file.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Tee returns a Publisher that logs each payload to the file after the
// primary publisher accepts it.
func (w *FileWriter) Tee(primary Publisher) Publisher {
	return &teePublisher{primary: primary, writer: w}
}

type teePublisher struct {
	primary Publisher
	writer  *FileWriter
}

func (t *teePublisher) PublishPoint(ctx context.Context, point telemetry.GpsPoint) error {
	if err := t.primary.PublishPoint(ctx, point); err != nil {
		return err
	}
	return t.writer.record(point)
}

func (t *teePublisher) PublishBatch(ctx context.Context, points []telemetry.GpsPoint) error {
	if err := t.primary.PublishBatch(ctx, points); err != nil {
		return err
	}
	for _, p := range points {
		if err := t.writer.record(p); err != nil {
			return err
		}
	}
	return nil
}

func (t *teePublisher) CloseFlight(ctx context.Context, flightID string) (*telemetry.FlightClosed, error) {
	confirmation, err := t.primary.CloseFlight(ctx, flightID)
	if err != nil {
		return nil, err
	}
	if confirmation != nil {
		if err := t.writer.record(confirmation); err != nil {
			return nil, err
		}
	}
	return confirmation, nil
}

func (t *teePublisher) Close() {
	t.primary.Close()
}
