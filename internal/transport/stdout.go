package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"paraglider-sim/internal/telemetry"
)

// StdoutPublisher signs envelopes exactly like the network publishers but
// prints them as JSON lines instead of transmitting. Used for dry runs.
type StdoutPublisher struct {
	deviceID string
	secret   string
	apiKey   string
	out      io.Writer
}

// NewStdoutPublisher creates a StdoutPublisher writing to os.Stdout.
func NewStdoutPublisher(id telemetry.DeviceIdentity, creds telemetry.OperationalCredentials) *StdoutPublisher {
	return &StdoutPublisher{
		deviceID: id.DeviceID,
		secret:   id.DeviceSecret,
		apiKey:   creds.APIKey,
		out:      os.Stdout,
	}
}

// PublishPoint implements Publisher.
func (p *StdoutPublisher) PublishPoint(_ context.Context, point telemetry.GpsPoint) error {
	env, err := telemetry.NewEnvelope(point, p.secret, p.apiKey)
	if err != nil {
		return err
	}
	return p.print(env)
}

// PublishBatch implements Publisher.
func (p *StdoutPublisher) PublishBatch(_ context.Context, points []telemetry.GpsPoint) error {
	if len(points) > MaxBatchPoints {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(points), MaxBatchPoints)
	}
	env, err := telemetry.NewBatchEnvelope(points, p.secret, p.apiKey)
	if err != nil {
		return err
	}
	return p.print(env)
}

// CloseFlight implements Publisher with a synthetic confirmation.
func (p *StdoutPublisher) CloseFlight(_ context.Context, flightID string) (*telemetry.FlightClosed, error) {
	if err := p.print(telemetry.FlightClose{FlightID: flightID, APIKey: p.apiKey}); err != nil {
		return nil, err
	}
	return &telemetry.FlightClosed{FlightID: flightID, Status: "closed"}, nil
}

// Close implements Publisher.
func (p *StdoutPublisher) Close() {}

func (p *StdoutPublisher) print(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Fprintln(p.out, string(data))
	return nil
}
