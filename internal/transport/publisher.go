// Transport layer: signs GPS payloads and delivers them to the tracking
// backend over MQTT-TLS or HTTPS.
package transport

import (
	"context"
	"errors"

	"paraglider-sim/internal/telemetry"
)

// MaxBatchPoints bounds one signed batch, keeping envelopes under broker
// message-size limits.
const MaxBatchPoints = 50

var (
	// ErrAuth means the backend rejected the credentials or signature.
	// Retrying with the same credentials cannot succeed.
	ErrAuth = errors.New("transport authentication failed")
	// ErrRejected means the backend refused the payload itself (validation
	// failure, stale timestamp, unknown flight). Not retryable.
	ErrRejected = errors.New("payload rejected by backend")
	// ErrTransient marks network or broker failures the caller may retry.
	ErrTransient = errors.New("transient transport failure")
	// ErrBatchTooLarge is returned before any bytes hit the wire.
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
)

// Retryable reports whether the device manager should retry the send.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Publisher delivers signed GPS payloads for one device. Implementations
// do not retry internally; retry policy belongs to the device manager.
type Publisher interface {
	// PublishPoint signs and transmits a single point.
	PublishPoint(ctx context.Context, point telemetry.GpsPoint) error
	// PublishBatch signs the whole ordered batch with one signature and
	// transmits it as one envelope.
	PublishBatch(ctx context.Context, points []telemetry.GpsPoint) error
	// CloseFlight asks the backend to finalize a flight session and
	// returns the confirmation when the transport provides one.
	CloseFlight(ctx context.Context, flightID string) (*telemetry.FlightClosed, error)
	// Close releases any connection owned by this publisher.
	Close()
}
